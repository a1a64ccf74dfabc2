// Package pyharbor embeds a single Python interpreter inside a host process and
// exposes it to many logical callers as isolated, independently lifecycled
// environments and sessions, while guaranteeing that only one interpreter
// execution runs at any instant.
//
// # Architecture Overview
//
// pyharbor is built from a small set of cooperating components:
//
//   - Store: an in-memory catalogue of known environments, persisted to a JSON
//     document. Loading is best-effort; a missing or corrupt catalogue never
//     prevents startup.
//
//   - Provisioner: creates isolated environments by invoking the external
//     environment-creation tooling (python -m venv for plain installations,
//     conda create for conda-style installations) and validates the result.
//     Provisioning the same path twice returns the tracked environment without
//     spawning a second creation process.
//
//   - Registry and ScopeBinder: track logical sessions, bind each session to a
//     persistent execution namespace (a "scope") inside the shared interpreter,
//     and manage the long-lived administrative session each environment carries
//     for package management.
//
//   - Gate: the interpreter access serializer. Every namespace creation, script
//     execution and value marshalling step runs inside Gate.With; two callers
//     never execute interpreter code simultaneously.
//
//   - Kernel: a supervised resident Python subprocess running an embedded
//     kernel script. Communication uses length-prefixed frames over pipes with
//     a negotiated codec (MessagePack when the interpreter side has it, JSON
//     otherwise).
//
//   - Runner: spawns package-manager child processes (pip- or conda-style),
//     streams combined stdout/stderr lines to a progress sink as they arrive,
//     and enforces a wall-clock timeout with forcible termination.
//
//   - Manager: the top-level facade. It selects an operating mode (single
//     logical user or many concurrent users), provisions a dedicated admin
//     environment for package management, and hands callers ready sessions.
//
// # Environment Management
//
//	store := pyharbor.NewStore("/data/envs.json")
//	prov := pyharbor.NewProvisioner(store, registry, binder, sink)
//	env, err := prov.CreateEnvironment(inst, "/envs/a", "analysis", "alice")
//
// # Script Execution
//
// Sessions own persistent namespaces, so state survives between calls:
//
//	sess, _ := mgr.SessionFor("alice")
//	mgr.RunScript(sess.ID, "x = 42")
//	out, ok, _ := mgr.RunScript(sess.ID, "print(x * 2)") // out == "84\n"
//
// # Package Operations
//
//	runner := pyharbor.NewRunner(store)
//	lines, err := runner.Run(ctx, pyharbor.PackageRequest{
//		Env:     env,
//		Package: "requests",
//		Action:  pyharbor.ActionInstall,
//	}, sink)
//
// Each output line is forwarded to the sink in arrival order. A successful
// install triggers an asynchronous refresh of the environment's cached
// installed-package list.
//
// # Platform Support
//
// The provisioner, runner and catalogue are portable across Linux, macOS and
// Windows; process-group termination and executability checks use
// platform-specific implementations. The resident kernel passes its data
// pipes as inherited file descriptors and therefore runs on Unix only;
// StartKernel fails with a clear error elsewhere.
package pyharbor
