// Package handle links reflection entities to the callers that observe them.
//
// An entity embeds Base. Callers hold an Observer (or the typed Handle
// wrapper) attached to the entity. When the entity is torn down it calls
// Invalidate and every attached observer reports invalid from then on:
//
//	type Class struct {
//	    handle.Base
//	    ...
//	}
//
//	h := handle.New(class)
//	c, err := h.Get() // class, nil
//
//	handle.Invalidate(class)
//	h.Valid()         // false
//	c, err = h.Get()  // nil, invalid_handle
//
// Observers never keep an entity alive. The link from entity to observer
// exists only to propagate invalidation; dropping the last reference to
// an observer without detaching it is harmless once the entity has been
// invalidated.
//
// # Validity
//
// Observer validity only moves in two directions: invalid to valid when
// the observer is attached to a live entity, and valid to invalid on
// detach or when the entity is invalidated. Attaching to an entity that
// is already invalid leaves the observer invalid and unlinked.
//
// An entity that has been invalidated may be revived (an assembly that is
// re-populated after its reflection info was disposed). Revival does not
// restore observers dropped by the invalidation; they must be attached
// again.
//
// # Thread Safety
//
// The package performs no locking. Entities and their observers belong to
// the thread that owns the managed domain.
package handle
