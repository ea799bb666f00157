// Package app wires the activation backend together and manages its lifecycle.
//
// # Initialization Flow
//
//	1. Load configuration from defaults, the YAML file and LOADER_* variables
//	2. Initialize logging and OpenTelemetry
//	3. Open the durable backend and create the volatile backend
//	4. Seed the volatile backend now and the durable backend on first contact
//	5. Build the license engine, attempt guard and services
//	6. Set up middleware, handlers and the HTTP server
//
// # Usage
//
//	a, err := app.NewApplication(configPath)
//	if err != nil {
//	    return err
//	}
//	return a.Run(ctx)
//
// Run returns when ctx is cancelled or the server fails. It drains active
// requests, stops background workers and closes the durable backend.
// The package never calls os.Exit.
package app
