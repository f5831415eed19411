// Package policy guards installs with Open Policy Agent (OPA) Rego policies.
//
// Every policy is a Rego module whose package defines a "deny" set. Each
// entry is either a message string or an object with "message" and an
// optional "severity". Entries with severity "error" or "critical" reject
// the install; anything else is reported as a warning.
//
// Policies see the request as input:
//
//	{
//	  "host": "web-1",
//	  "artifact": {"name": "Nginx", "parameters": {"package": "nginx", "version": "1.24"}},
//	  "context": {"operation": "install", "user": "deploy", "timestamp": "..."}
//	}
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"/etc/deploy/policies"}); err != nil {
//	    return err
//	}
//	inst, err := engine.NewInstaller(sources, engine.WithGuard(eng))
//
// A custom policy file:
//
//	# No database packages on web hosts.
//	# severity: error
//	package deploy.web
//
//	import rego.v1
//
//	deny contains msg if {
//	    startswith(input.host, "web-")
//	    input.artifact.parameters["package"] in {"postgresql", "mysql"}
//	    msg := sprintf("%s does not belong on %s", [input.artifact.name, input.host])
//	}
//
// Policies can also be defined in JSON or YAML with name, description,
// rego, severity and enabled fields. Engine.Watch reloads them when files
// change; built-in policies survive a reload unless a file shadows them by
// name.
package policy
