package config

// manifestSchema constrains CUE and JSON manifests before they are decoded.
// Definitions are closed, so misspelled fields are reported with their
// position.
const manifestSchema = `
#Duration: string | number

#Repository: {
	root?:    string
	catalog?: string
	cache?:   bool
	watch?:   bool
}

#Source: {
	name:        string & !=""
	type:        "repository" | "mirror"
	base_url?:   string
	mirror_dir?: string
	work_dir?:   string
}

#SSH: {
	user?:                     string
	port?:                     int & >=1 & <=65535
	auth_method?:              "password" | "key" | "agent"
	password?:                 string
	private_key?:              string
	passphrase?:               string
	known_hosts?:              string
	insecure_ignore_host_key?: bool
	connect_timeout?:          #Duration
	jump_host?:                string
}

#Host: {
	address?:     string
	port?:        int & >=1 & <=65535
	user?:        string
	password?:    string
	private_key?: string
	jump_host?:   string
}

#Policy: {
	paths?:   [...string]
	disable?: [...string]
	watch?:   bool
}

#Telemetry: {
	log_level?:  "trace" | "debug" | "info" | "warn" | "error" | "fatal"
	log_format?: "console" | "json"
	tracing?: {
		enabled?:       bool
		exporter?:      "otlp" | "stdout" | "none"
		endpoint?:      string
		sampling_rate?: number & >=0 & <=1
		insecure?:      bool
	}
	metrics?: {
		enabled?: bool
		listen?:  string
	}
}

#Manifest: {
	repository: #Repository
	sources: [...#Source]
	ssh?:             #SSH
	hosts?:           [string]: #Host
	variants?:        [...string]
	policy?:          #Policy
	telemetry?:       #Telemetry
	concurrency?:     int & >=0 & <=256
	command_timeout?: #Duration
}
`
