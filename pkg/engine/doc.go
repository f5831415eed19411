// Package engine provides the core types of the froyo-deploy installer.
//
// # Overview
//
// An install request names an Artifact and a target host. The Installer
// walks an ordered list of PackageSources and asks the artifact to install
// itself through each one until a source succeeds:
//
//	product, _ := engine.NewProduct("Nginx", engine.Params{"version": "1.24"})
//	inst, _ := engine.NewInstaller([]engine.PackageSource{primary, mirror})
//	outcome, err := inst.OnHost(ctx, "web-1.example.com", product)
//
// The outcome records every source that failed before the winner, in
// source order. When every source fails, Outcome.Failed reports true and
// Outcome.Errors holds exactly one entry per source.
//
// # Error Classification
//
// All engine errors are *DeployError values tagged with an ErrorClass:
//
//   - repository: package lookup or resource retrieval failed
//   - unsupported_os: no known OS variant matched the host
//   - transport: the command could not be delivered to the host
//   - artifact: the install request itself is malformed or forbidden
//
// Repository, unsupported_os and transport errors are recovered by falling
// back to the next source. Artifact errors, context cancellation and any
// unclassified error abort the request and are returned to the caller.
//
// # Rollout
//
// Rollout fans a single artifact out over many hosts with bounded
// parallelism. Each host is handled by its own installer call; a request
// rejected as malformed stops hosts that have not started yet.
package engine
