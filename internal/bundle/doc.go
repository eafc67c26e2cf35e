// Package bundle retrieves a manifest and the asset bundles it lists
// through the download scheduler.
//
// The flow has two steps:
//
//  1. Request the manifest, which lists every bundle with its content hash
//     and dependencies
//  2. Request bundles by name, optionally with all of their dependencies
//
// # Manifest
//
// RequestManifest queues the manifest download. Once it succeeds the body
// is parsed with ParseManifest and kept by the Loader:
//
//	mw, err := loader.RequestManifest(ctx)
//	if err != nil {
//	    return err
//	}
//	if err := mw.Wait(ctx); err != nil {
//	    return err
//	}
//	m, ok := loader.Manifest()
//
// # Bundles
//
// Bundle URLs carry the content hash as a version query, and with a cache
// attached a bundle already stored at that hash is served without network
// access:
//
//	ws, err := loader.RequestBundleWithDependencies(ctx, "characters")
//	if err := bundle.WaitAll(ctx, ws...); err != nil {
//	    return err
//	}
//	data, _ := bundle.Payload(ws[len(ws)-1])
//
// # URL Layout
//
//	<URLPrefix>[<Platform>/]<ManifestName>
//	<URLPrefix>[<Platform>/]<bundle name>?v=<hash>
package bundle
