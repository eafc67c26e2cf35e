// Package server provides the status and control API of bundle-fetch.
//
// Routes:
//
//	GET    /healthz
//	GET    /api/requests          stats and one status per tracked wrapper
//	GET    /api/requests/{id}     one wrapper, 404 if unknown
//	DELETE /api/requests/{id}     cancel; 204, or 404 if nothing was cancelled
//	POST   /api/manifest          queue the manifest; 202
//	POST   /api/bundles/{name}    queue a bundle (?deps=true for dependencies); 202,
//	                              409 without a manifest, 404 for an unknown bundle
//
// Example:
//
//	srv, err := server.New(server.Options{Scheduler: s, Loader: l, BaseContext: ctx})
//	if err != nil {
//	    return err
//	}
//	g.Go(func() error { return srv.Run(ctx, ":8080") })
package server
