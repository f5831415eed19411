package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/openfroyo/deploy/pkg/engine"
	"github.com/openfroyo/deploy/pkg/transports/ssh/sshtest"
)

func stubLookup(table map[string][]string) func(context.Context, string) ([]string, error) {
	return func(_ context.Context, host string) ([]string, error) {
		if addrs, ok := table[host]; ok {
			return addrs, nil
		}
		return nil, errors.New("no such host")
	}
}

func TestFactoryIsLocal(t *testing.T) {
	f := NewFactory(nil, 0)
	f.LookupHost = stubLookup(map[string][]string{
		"me.internal":    {"127.0.1.1"},
		"dual.internal":  {"127.0.0.1", "::1"},
		"mixed.internal": {"127.0.0.1", "10.0.0.4"},
		"web-1":          {"10.0.0.5"},
	})

	tests := []struct {
		host string
		want bool
	}{
		{"", true},
		{"localhost", true},
		{"LOCALHOST", true},
		{"127.0.0.1", true},
		{"::1", true},
		{"[::1]", true},
		{"me.internal", true},
		{"dual.internal", true},
		{"mixed.internal", false},
		{"web-1", false},
		{"10.1.2.3", false},
		{"unresolvable.invalid", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := f.IsLocal(context.Background(), tt.host); got != tt.want {
				t.Errorf("IsLocal(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

func TestFactoryOpenLocal(t *testing.T) {
	f := NewFactory(nil, 0)

	exec, err := f.Open(context.Background(), "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer exec.Close()

	if _, ok := exec.(*Local); !ok {
		t.Errorf("Open(\"\") = %T, want *Local", exec)
	}
}

func TestFactoryOpenRemote(t *testing.T) {
	server := sshtest.NewServer(t, sshtest.Script{"hostname": {Stdout: "web-1\n"}}.Handler())

	f := NewFactory(nil, 0)
	f.LookupHost = stubLookup(map[string][]string{"web-1": {"10.0.0.5"}})
	f.Hosts["web-1"] = testSSHConfig(server)

	exec, err := f.Open(context.Background(), "web-1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer exec.Close()

	if _, ok := exec.(*Remote); !ok {
		t.Fatalf("Open(web-1) = %T, want *Remote", exec)
	}
	res, err := exec.Execute(context.Background(), "hostname")
	if err != nil || res.Stdout != "web-1\n" {
		t.Errorf("Execute() = %+v, %v", res, err)
	}
}

func TestFactoryOpenRemoteWithoutSettings(t *testing.T) {
	f := NewFactory(nil, 0)
	f.LookupHost = stubLookup(nil)

	_, err := f.Open(context.Background(), "db.example.com")
	if !engine.IsTransport(err) {
		t.Fatalf("Open() error = %v, want transport error", err)
	}
}
