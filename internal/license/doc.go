// Package license implements the activation and validation rules of the
// Cloud Loader backend.
//
// # Activation
//
// A device presents a key code, its fingerprint and a nickname. The Engine
// normalizes the code, serializes on the key and the device (in that order)
// and then checks, short-circuiting:
//
//	1. the key exists                          INVALID_KEY
//	2. the key still has uses                  KEY_EXHAUSTED
//	3. the device has no active grant          DEVICE_ALREADY_ACTIVATED
//	4. the key is not bound to another device  KEY_ALREADY_USED (coder keys exempt)
//
// An accepted activation spends one use with a compare-and-swap on the key
// and creates the grant conditionally. Both writes go to the backend chosen
// for the request; the engine never picks a backend itself.
//
// # Validation
//
// Validate looks up the grant of a fingerprint. Inactive or unknown devices
// are reported as invalid without any write. Valid devices get their usage
// counter and last-seen time refreshed.
//
// # Locking
//
// The Locker serializes work per key and per fingerprint inside one process.
// Store-level conditional writes keep the rules intact when the lock is not
// enough, for example when two processes share the durable store.
package license
