// Package config holds connection options and the pgsession.json config file
// format that produces them.
package config

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"iter"
	"os"
)

// Options is the resolved, immutable input to a connection. Zero values for
// Port and Database are filled in by Normalized; everything else is used
// as given.
type Options struct {
	Host            string
	Port            uint16
	User            string
	Password        string
	Database        string
	ApplicationName string

	TLS           TLSOptions
	Connection    ConnectionOptions
	RuntimeParams map[string]string
}

// TLSOptions controls transport encryption for the connection.
type TLSOptions struct {
	// Enabled sends an SSLRequest before startup and upgrades if the server
	// accepts. When false the connection never attempts TLS.
	Enabled bool

	// Enforce refuses to proceed when TLS cannot be established: the server
	// refuses the SSLRequest or presents an invalid certificate. Without
	// Enforce those cases silently continue in plaintext.
	Enforce bool

	// CACertificates is extra PEM-encoded trusted roots for verifying the
	// server certificate, in addition to nothing (the system pool is not
	// consulted when this is set).
	CACertificates [][]byte
}

// ConnectionOptions bounds the connection retry behavior.
type ConnectionOptions struct {
	// Attempts is the total number of connection tries for transport-class
	// failures. 0 and 1 both mean a single try with no retries.
	Attempts uint32 `json:"attempts,omitzero"`
}

// TotalAttempts returns the number of tries Connect makes: max(1, Attempts).
func (c ConnectionOptions) TotalAttempts() int {
	if c.Attempts < 1 {
		return 1
	}
	return int(c.Attempts)
}

// Normalized returns a copy with defaults applied: port 5432 and database
// defaulting to the user name.
func (o Options) Normalized() Options {
	if o.Port == 0 {
		o.Port = 5432
	}
	if o.Database == "" {
		o.Database = o.User
	}
	return o
}

// Validate checks the option combinations that cannot work.
func (o Options) Validate() error {
	var errs []error
	if o.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if o.User == "" {
		errs = append(errs, errors.New("user is required"))
	}
	if !o.TLS.Enabled && o.TLS.Enforce {
		errs = append(errs, errors.New("tls.enforce requires tls.enabled"))
	}
	return errors.Join(errs...)
}

// File is the pgsession.json config file format. User and password are
// SecretRefs so real deployments never put credentials in the file itself.
type File struct {
	Host            string    `json:"host"`
	Port            uint16    `json:"port,omitzero"`
	User            SecretRef `json:"user"`
	Password        SecretRef `json:"password"`
	Database        string    `json:"database,omitzero"`
	ApplicationName string    `json:"application_name,omitzero"`

	TLS           FileTLS           `json:"tls,omitzero"`
	Connection    ConnectionOptions `json:"connection,omitzero"`
	RuntimeParams map[string]string `json:"runtime_params,omitzero"`
}

// FileTLS is the tls section of the config file. CA certificates are
// referenced by path and loaded at resolve time.
type FileTLS struct {
	Enabled            bool     `json:"enabled,omitzero"`
	Enforce            bool     `json:"enforce,omitzero"`
	CACertificatePaths []string `json:"ca_certificate_paths,omitzero"`
}

// ParseFile parses a JSON configuration string.
func ParseFile(jsonStr string) (*File, error) {
	var f File
	if err := json.Unmarshal([]byte(jsonStr), &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// ReadFile reads and parses a configuration file from the given path.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFile(string(data))
}

// Secrets returns an iterator over all secret references in the file, keyed
// by their location, for validation tooling.
func (f *File) Secrets() iter.Seq2[string, SecretRef] {
	return func(yield func(string, SecretRef) bool) {
		if !yield("user", f.User) {
			return
		}
		yield("password", f.Password)
	}
}

// Resolve produces the Options value the connection core consumes: secrets
// fetched, CA certificate files read, defaults applied.
func (f *File) Resolve(ctx context.Context, secrets *SecretCache) (Options, error) {
	user, err := secrets.Get(ctx, f.User)
	if err != nil {
		return Options{}, fmt.Errorf("resolve user: %w", err)
	}
	password, err := secrets.Get(ctx, f.Password)
	if err != nil {
		return Options{}, fmt.Errorf("resolve password: %w", err)
	}

	var cas [][]byte
	for _, path := range f.TLS.CACertificatePaths {
		pem, err := os.ReadFile(path)
		if err != nil {
			return Options{}, fmt.Errorf("read CA certificate %q: %w", path, err)
		}
		cas = append(cas, pem)
	}

	opts := Options{
		Host:            f.Host,
		Port:            f.Port,
		User:            user,
		Password:        password,
		Database:        f.Database,
		ApplicationName: f.ApplicationName,
		TLS: TLSOptions{
			Enabled:        f.TLS.Enabled,
			Enforce:        f.TLS.Enforce,
			CACertificates: cas,
		},
		Connection:    f.Connection,
		RuntimeParams: f.RuntimeParams,
	}.Normalized()

	return opts, opts.Validate()
}

// Validate verifies the file without producing options: every secret must be
// resolvable. Errors are accumulated, not first-stop.
func (f *File) Validate(ctx context.Context, secrets *SecretCache) error {
	var errs []error
	for path, ref := range f.Secrets() {
		if _, err := secrets.Get(ctx, ref); err != nil {
			errs = append(errs, errors.Join(errors.New(path), err))
		}
	}
	return errors.Join(errs...)
}
