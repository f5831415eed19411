// Package config loads the froyo-deploy manifest and wires the deployment
// components from it.
//
// A manifest is YAML, CUE or JSON. CUE and JSON manifests are unified with
// a closed CUE schema first; every format is then checked with validator
// struct tags. A minimal YAML manifest:
//
//	repository:
//	  root: ./repo
//	  cache: true
//	sources:
//	  - name: upstream
//	    type: repository
//	    base_url: https://packages.example.com/
//	  - name: mirror
//	    type: mirror
//	    mirror_dir: /srv/mirror
//	ssh:
//	  user: deploy
//	  private_key: ~/.ssh/deploy_ed25519
//	hosts:
//	  web-1:
//	    address: 10.0.0.11
//	policy:
//	  paths: [./policies]
//	concurrency: 8
//	command_timeout: 2m
//
// The same manifest in CUE:
//
//	repository: root: "./repo"
//	sources: [
//		{name: "upstream", type: "repository", base_url: "https://packages.example.com/"},
//		{name: "mirror", type: "mirror", mirror_dir: "/srv/mirror"},
//	]
//	ssh: user: "deploy"
//
// Relative repository, mirror and policy paths are resolved against the
// manifest's directory. Build turns a manifest into a Deployment holding
// the repository, executor factory, OS detector, policy engine and package
// sources; Deployment.Installer assembles them into an engine.Installer.
package config
