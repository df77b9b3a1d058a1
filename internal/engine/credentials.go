package engine

import (
	"context"
	"os"
	"strings"

	"pipeline-engine/internal/model"
)

// CredentialProvider resolves warehouse credentials for a pipeline. The engine
// passes the result down the call chain scoped to a single run; it never
// persists credentials or writes them into the process environment.
type CredentialProvider interface {
	Resolve(ctx context.Context, pipelineName string) (model.Credentials, error)
}

// EnvCredentialProvider reads credentials from environment variables of the
// form <PIPELINE>_CRED_<KEY> at resolve time. The values are copied into a
// per-run map; nothing ambient is mutated.
type EnvCredentialProvider struct{}

func (EnvCredentialProvider) Resolve(_ context.Context, pipelineName string) (model.Credentials, error) {
	prefix := credPrefix(pipelineName)
	creds := model.Credentials{}
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		creds[strings.ToLower(strings.TrimPrefix(name, prefix))] = value
	}
	return creds, nil
}

func credPrefix(pipelineName string) string {
	name := strings.ToUpper(pipelineName)
	name = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
	return name + "_CRED_"
}

// StaticCredentials satisfies CredentialProvider with a fixed map; used in
// tests and by the CLI when credentials come from flags.
type StaticCredentials model.Credentials

func (s StaticCredentials) Resolve(context.Context, string) (model.Credentials, error) {
	return model.Credentials(s), nil
}
