package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	params map[string]string
	puts   []string
	getErr error
	putErr error
}

func newFakeSSM() *fakeSSM {
	return &fakeSSM{params: map[string]string{}}
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.params[aws.ToString(in.Name)]
	if !ok {
		return nil, &ssmtypes.ParameterNotFound{Message: aws.String("not found")}
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: in.Name, Value: aws.String(v)}}, nil
}

func (f *fakeSSM) PutParameter(_ context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	name := aws.ToString(in.Name)
	if _, exists := f.params[name]; exists && !aws.ToBool(in.Overwrite) {
		return nil, &ssmtypes.ParameterAlreadyExists{Message: aws.String("exists")}
	}
	if in.Type != ssmtypes.ParameterTypeSecureString {
		return nil, errors.New("expected SecureString")
	}
	f.params[name] = aws.ToString(in.Value)
	f.puts = append(f.puts, name)
	return &ssm.PutParameterOutput{}, nil
}

func newTestManager(client SSMClient) *SSMManager {
	return NewSSMManager(client, "dev", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func envLookup(vals map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vals[k]
		return v, ok
	}
}

func outcomes(results []Result) map[string]string {
	out := make(map[string]string, len(results))
	for _, r := range results {
		out[r.EnvVar] = r.Outcome
	}
	return out
}

func TestSSMPath(t *testing.T) {
	m := newTestManager(newFakeSSM())
	if got := m.SSMPath("broker/url"); got != "/dev/courier/broker/url" {
		t.Errorf("SSMPath = %q", got)
	}
}

func TestBootstrap_FreshEnvironment(t *testing.T) {
	client := newFakeSSM()
	env := envLookup(map[string]string{
		"RABBITMQ_URL": "amqp://guest:guest@mq:5672/",
		"REDIS_URL":    "redis://cache:6379",
	})

	results, err := Bootstrap(context.Background(), newTestManager(client), env, false)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"RABBITMQ_URL":    OutcomeWritten,
		"REDIS_URL":       OutcomeWritten,
		"JWT_SECRET":      OutcomeWritten,
		"SMTP_PASSWORD":   OutcomeSkipped,
		"PUSH_SERVER_KEY": OutcomeSkipped,
	}, outcomes(results))

	assert.Equal(t, "amqp://guest:guest@mq:5672/", client.params["/dev/courier/broker/url"])
	assert.Len(t, client.params["/dev/courier/auth/jwt_secret"], 2*tokenByteLength)
}

func TestBootstrap_KeepsExistingWithoutOverwrite(t *testing.T) {
	client := newFakeSSM()
	client.params["/dev/courier/broker/url"] = "amqp://old"
	client.params["/dev/courier/auth/jwt_secret"] = "old-secret"

	env := envLookup(map[string]string{
		"RABBITMQ_URL": "amqp://new",
		"REDIS_URL":    "redis://cache:6379",
	})
	results, err := Bootstrap(context.Background(), newTestManager(client), env, false)
	require.NoError(t, err)

	got := outcomes(results)
	assert.Equal(t, OutcomeKept, got["RABBITMQ_URL"])
	assert.Equal(t, OutcomeKept, got["JWT_SECRET"])
	assert.Equal(t, "amqp://old", client.params["/dev/courier/broker/url"])
	assert.Equal(t, "old-secret", client.params["/dev/courier/auth/jwt_secret"])
}

func TestBootstrap_OverwriteDoesNotRegenerateSecret(t *testing.T) {
	client := newFakeSSM()
	client.params["/dev/courier/auth/jwt_secret"] = "old-secret"

	env := envLookup(map[string]string{
		"RABBITMQ_URL": "amqp://new",
		"REDIS_URL":    "redis://cache:6379",
	})
	results, err := Bootstrap(context.Background(), newTestManager(client), env, true)
	require.NoError(t, err)

	assert.Equal(t, OutcomeKept, outcomes(results)["JWT_SECRET"])
	assert.Equal(t, "old-secret", client.params["/dev/courier/auth/jwt_secret"])
	assert.Equal(t, "amqp://new", client.params["/dev/courier/broker/url"])
}

func TestBootstrap_MissingRequiredWritesNothing(t *testing.T) {
	client := newFakeSSM()
	_, err := Bootstrap(context.Background(), newTestManager(client), envLookup(map[string]string{
		"REDIS_URL": "redis://cache:6379",
	}), false)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "RABBITMQ_URL")
	assert.Empty(t, client.puts)
}

func TestBootstrap_SSMErrorsPropagate(t *testing.T) {
	env := envLookup(map[string]string{"RABBITMQ_URL": "amqp://x", "REDIS_URL": "redis://x"})

	client := newFakeSSM()
	client.getErr = errors.New("throttled")
	_, err := Bootstrap(context.Background(), newTestManager(client), env, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")

	client = newFakeSSM()
	client.putErr = errors.New("access denied")
	_, err = Bootstrap(context.Background(), newTestManager(client), env, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/courier/broker/url")
}

func TestPutSecret_RejectsEmptyValue(t *testing.T) {
	m := newTestManager(newFakeSSM())
	if err := m.PutSecret(context.Background(), "/dev/courier/x", "", false); err == nil {
		t.Error("expected error for empty value")
	}
}

func TestPrintEnvLines(t *testing.T) {
	var buf bytes.Buffer
	printEnvLines(&buf, []Result{
		{EnvVar: "RABBITMQ_URL", Path: "/dev/courier/broker/url", Outcome: OutcomeWritten},
		{EnvVar: "SMTP_PASSWORD", Path: "/dev/courier/email/smtp_password", Outcome: OutcomeSkipped},
		{EnvVar: "JWT_SECRET", Path: "/dev/courier/auth/jwt_secret", Outcome: OutcomeKept},
	})
	assert.Equal(t,
		"RABBITMQ_URL_SSM_PARAM=/dev/courier/broker/url\nJWT_SECRET_SSM_PARAM=/dev/courier/auth/jwt_secret\n",
		buf.String())
}

func TestGenerateSecureToken(t *testing.T) {
	a, err := GenerateSecureToken()
	require.NoError(t, err)
	b, err := GenerateSecureToken()
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
