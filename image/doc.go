// Package image defines the metadata model of an assembly image and its
// two serialized forms.
//
// An Image lists the classes an assembly defines and the types it
// references from other images. Method bodies are sequences of stack
// machine instructions executed by the engine package.
//
// # Building
//
//	b := image.NewBuilder("hello")
//	b.Class("Sample", "Greeter").
//	    Method("Greet").Static().Returns("System.String").
//	    Body(image.Ldstr("hi"), image.Ret())
//	img := b.Build()
//
// Build computes the referenced type list from signatures, parents,
// attributes and the member references in method bodies.
//
// # Forms
//
// The binary form is canonical CBOR behind a four byte magic header
// (Encode, Decode). The source form is TOML (ParseSource, FormatSource)
// with method bodies written as IL text:
//
//	name = "hello"
//
//	[[class]]
//	namespace = "Sample"
//	name = "Greeter"
//
//	  [[class.method]]
//	  name = "Greet"
//	  static = true
//	  return = "System.String"
//	  il = '''
//	  ldstr "hi"
//	  ret
//	  '''
//
// ReadFile and WriteFile choose the form by file extension.
package image
