// Package services holds the application services behind the HTTP handlers.
//
// Every service method that touches storage takes the storage.Backend chosen
// for the request as an explicit argument, so one request never mixes the
// durable and the volatile tables.
package services
