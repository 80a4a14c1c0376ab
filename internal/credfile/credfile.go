// Package credfile loads the YAML credentials file and keeps a rotator in
// step with it while the file is edited.
package credfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/prilive-com/relaygo/api"
	"github.com/prilive-com/relaygo/internal/validate"
)

// File mirrors the credentials file:
//
//	channel: "123456789012345678"
//	credentials:
//	  - secret: "..."
//	    label: "bot1"
type File struct {
	Channel     string  `yaml:"channel"`
	Credentials []Entry `yaml:"credentials"`
}

// Entry is one credential in the file.
type Entry struct {
	Secret string `yaml:"secret"`
	Label  string `yaml:"label"`
}

// Load reads and validates the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates file content. Unknown keys are rejected.
// An empty document is a valid file with no credentials.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}

	if f.Channel != "" {
		if err := validate.ChannelID(f.Channel); err != nil {
			return nil, err
		}
	}
	for i, e := range f.Credentials {
		if err := validate.Secret(api.Secret(e.Secret)); err != nil {
			return nil, fmt.Errorf("credentials[%d]: %w", i, err)
		}
	}
	return &f, nil
}

// APICredentials converts the entries, in file order.
func (f *File) APICredentials() []api.Credential {
	out := make([]api.Credential, 0, len(f.Credentials))
	for _, e := range f.Credentials {
		out = append(out, api.NewCredential(e.Secret, e.Label))
	}
	return out
}

// Target is the credential set Reconcile edits. *rotator.Rotator satisfies it.
type Target interface {
	Credentials() []api.Credential
	Add(api.Credential) bool
	RemoveSecret(api.Secret) bool
}

// Reconcile makes t hold exactly want: secrets missing from want are removed,
// new ones are appended in order. Credentials present in both are untouched,
// so the cursor stays on the current credential when it survives.
func Reconcile(t Target, want []api.Credential) (added, removed int) {
	keep := make(map[api.Secret]struct{}, len(want))
	for _, c := range want {
		keep[c.Secret.Trimmed()] = struct{}{}
	}

	for _, c := range t.Credentials() {
		if _, ok := keep[c.Secret.Trimmed()]; !ok && t.RemoveSecret(c.Secret) {
			removed++
		}
	}
	for _, c := range want {
		if t.Add(c) {
			added++
		}
	}
	return added, removed
}
