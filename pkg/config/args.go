package config

import (
	"errors"
	"strings"
)

// Module argument keys.
const (
	ArgOrg             = "org"
	ArgClientID        = "client_id"
	ArgTeam            = "team"
	ArgAutoCreateUser  = "auto_create_user"
	ArgAllowImportKeys = "allow_import_keys"

	ArgConfig          = "config"
	ArgDebug           = "debug"
	ArgLogFile         = "log_file"
	ArgGitHubURL       = "github_url"
	ArgAPIURL          = "api_url"
	ArgScope           = "scope"
	ArgCAFile          = "ca_file"
	ArgMetricsTextfile = "metrics_textfile"

	// SudoerValue as the auto_create_user value requests admin rights.
	SudoerValue = "sudoer"
)

// KnownArgs lists every argument key the module understands.
var KnownArgs = []string{
	ArgOrg, ArgClientID, ArgTeam, ArgAutoCreateUser, ArgAllowImportKeys,
	ArgConfig, ArgDebug, ArgLogFile, ArgGitHubURL, ArgAPIURL, ArgScope, ArgCAFile, ArgMetricsTextfile,
}

// Args maps module argument keys to values. Bare flags map to "".
type Args map[string]string

// ParseArgs turns module arguments into Args. "key=value" splits at the first
// '='; anything else is a flag with an empty value. Flags are applied after
// pairs, so a bare flag wins over a pair with the same key.
func ParseArgs(argv []string) Args {
	args := Args{}
	var flags []string
	for _, arg := range argv {
		if key, value, ok := strings.Cut(arg, "="); ok {
			args[key] = value
			continue
		}
		flags = append(flags, arg)
	}
	for _, flag := range flags {
		args[flag] = ""
	}
	return args
}

// Has reports whether key was given, with or without a value.
func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Lookup returns the value of key and whether it was given with a non-empty
// value.
func (a Args) Lookup(key string) (string, bool) {
	v, ok := a[key]
	return v, ok && v != ""
}

var (
	ErrMissingOrganization = errors.New("organization is required")
	ErrMissingClientID     = errors.New("client_id is required")
	ErrEmptyTeam           = errors.New("team was given without a name")
)

// Policy holds the authorization parameters of one attempt.
type Policy struct {
	Organization string `yaml:"org,omitempty"`
	ClientID     string `yaml:"client-id,omitempty"`
	// Team is optional; empty skips the team check unless TeamSet.
	Team string `yaml:"team,omitempty"`
	// TeamSet records that a team argument was supplied, even an empty one.
	TeamSet         bool `yaml:"-"`
	AutoCreateUser  bool `yaml:"auto-create-user,omitempty"`
	Sudoer          bool `yaml:"sudoer,omitempty"`
	AllowImportKeys bool `yaml:"allow-import-keys,omitempty"`
}

// Validate checks that the required parameters are present. Empty values
// count as missing, and a supplied team must name one.
func (p Policy) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Organization) == "" {
		errs = append(errs, ErrMissingOrganization)
	}
	if strings.TrimSpace(p.ClientID) == "" {
		errs = append(errs, ErrMissingClientID)
	}
	if p.TeamSet && strings.TrimSpace(p.Team) == "" {
		errs = append(errs, ErrEmptyTeam)
	}
	return errors.Join(errs...)
}

// WithArgs returns p overridden by the policy keys in args.
func (p Policy) WithArgs(args Args) Policy {
	if v, ok := args[ArgOrg]; ok {
		p.Organization = v
	}
	if v, ok := args[ArgClientID]; ok {
		p.ClientID = v
	}
	if v, ok := args[ArgTeam]; ok {
		p.Team = v
		p.TeamSet = true
	}
	if v, ok := args[ArgAutoCreateUser]; ok {
		p.AutoCreateUser = true
		p.Sudoer = v == SudoerValue
	}
	if args.Has(ArgAllowImportKeys) {
		p.AllowImportKeys = true
	}
	return p
}

// PolicyFromArgs builds a policy from module arguments alone.
func PolicyFromArgs(args Args) (Policy, error) {
	p := Policy{}.WithArgs(args)
	return p, p.Validate()
}
