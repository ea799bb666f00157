// Package http implements the HTTP handlers of the activation backend.
//
// Handlers are thin: they decode and validate the request, read the storage
// backend selected for the request from its context, call a service and
// render the result. Business rejections are ordinary 200 responses with a
// reason; malformed input and faults become RFC 7807 problem documents
// through the shared error handler.
//
// # Routes
//
//	GET  /api/health                   process and backend status
//	POST /api/activate                 consume a key for the X-HWID device
//	POST /api/validate                 check the grant of a device
//	GET  /api/script                   role-gated payload for a validated device
//	POST /api/admin/login              operator session token
//	GET  /api/admin/keys               keys grouped by role
//	POST /api/admin/keys               generate keys
//	POST /api/admin/keys/{code}/reset  restore a key budget
//	GET  /api/admin/devices            device grants
//	POST /api/admin/devices/{fingerprint}/deactivate
//	POST /api/admin/devices/{fingerprint}/reactivate
//	GET  /api/admin/stats              counts for both tables
//	GET  /api/admin/health             runtime detail
//	POST /api/admin/payload/reload     re-read the payload script
package http
