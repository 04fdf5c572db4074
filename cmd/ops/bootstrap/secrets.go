package main

import (
	"context"
	"fmt"
	"io"
)

// Secret is one entry of the inventory.
type Secret struct {
	// EnvVar is the variable the binaries read; EnvVar+"_SSM_PARAM" points
	// at the parameter.
	EnvVar string
	// Key is the category/key under /{env}/courier/.
	Key      string
	Required bool
	// Generate creates a value when none is supplied.
	Generate bool
}

// Inventory lists every secret courier resolves through SSM.
var Inventory = []Secret{
	{EnvVar: "RABBITMQ_URL", Key: "broker/url", Required: true},
	{EnvVar: "REDIS_URL", Key: "redis/url", Required: true},
	{EnvVar: "JWT_SECRET", Key: "auth/jwt_secret", Generate: true},
	{EnvVar: "SMTP_PASSWORD", Key: "email/smtp_password"},
	{EnvVar: "PUSH_SERVER_KEY", Key: "push/server_key"},
}

// Outcome values reported per secret.
const (
	OutcomeWritten = "written"
	OutcomeKept    = "kept"
	OutcomeSkipped = "skipped"
)

// Result describes what happened to one secret.
type Result struct {
	EnvVar  string
	Path    string
	Outcome string
}

// Bootstrap writes each inventory secret whose value is available from
// lookup. Parameters that already exist are kept unless overwrite is set.
// A missing required value fails before anything is written.
func Bootstrap(ctx context.Context, mgr *SSMManager, lookup func(string) (string, bool), overwrite bool) ([]Result, error) {
	values := make(map[string]string, len(Inventory))
	for _, s := range Inventory {
		if v, ok := lookup(s.EnvVar); ok && v != "" {
			values[s.EnvVar] = v
			continue
		}
		if s.Required {
			return nil, fmt.Errorf("%s must be set in the environment", s.EnvVar)
		}
	}

	results := make([]Result, 0, len(Inventory))
	for _, s := range Inventory {
		path := mgr.SSMPath(s.Key)

		exists, err := mgr.ParameterExists(ctx, path)
		if err != nil {
			return results, err
		}
		if exists && !overwrite {
			results = append(results, Result{EnvVar: s.EnvVar, Path: path, Outcome: OutcomeKept})
			continue
		}

		value, ok := values[s.EnvVar]
		if !ok && s.Generate && !exists {
			if value, err = GenerateSecureToken(); err != nil {
				return results, err
			}
			ok = true
		}
		if !ok {
			outcome := OutcomeSkipped
			if exists {
				outcome = OutcomeKept
			}
			results = append(results, Result{EnvVar: s.EnvVar, Path: path, Outcome: outcome})
			continue
		}

		if err := mgr.PutSecret(ctx, path, value, overwrite); err != nil {
			return results, err
		}
		results = append(results, Result{EnvVar: s.EnvVar, Path: path, Outcome: OutcomeWritten})
	}
	return results, nil
}

// printEnvLines writes NAME_SSM_PARAM=path for every secret present in SSM.
func printEnvLines(w io.Writer, results []Result) {
	for _, r := range results {
		if r.Outcome == OutcomeSkipped {
			continue
		}
		fmt.Fprintf(w, "%s_SSM_PARAM=%s\n", r.EnvVar, r.Path)
	}
}
