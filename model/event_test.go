package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseARN(t *testing.T) {
	tests := []struct {
		name    string
		arn     string
		want    string
		region  string
		wantErr bool
	}{
		{name: "codecommit", arn: "arn:aws:codecommit:us-east-1:123:myrepo", want: "myrepo", region: "us-east-1"},
		{name: "other partition", arn: "arn:aws-cn:codecommit:cn-north-1:42:repo-x", want: "repo-x", region: "cn-north-1"},
		{name: "too few fields", arn: "arn:aws:codecommit:us-east-1:myrepo", wantErr: true},
		{name: "too many fields", arn: "arn:aws:codecommit:us-east-1:123:myrepo:extra", wantErr: true},
		{name: "empty resource", arn: "arn:aws:codecommit:us-east-1:123:", wantErr: true},
		{name: "not an arn", arn: "urn:aws:codecommit:us-east-1:123:myrepo", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseARN(tt.arn)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidARN)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Resource)
			assert.Equal(t, tt.region, got.Region)
			assert.Equal(t, tt.arn, got.String())
		})
	}
}

func TestParseEvent(t *testing.T) {
	data := []byte(`{
		"Records": [{
			"eventSourceARN": "arn:aws:codecommit:eu-west-1:176853725791:tagger",
			"codecommit": {"references": [{"ref": "refs/heads/main"}, {"ref": "refs/tags/v1"}]}
		}],
		"Credentials": {"aws_access_key_id": "AKID", "aws_secret_access_key": "SECRET"}
	}`)

	ev, err := ParseEvent(data)
	require.NoError(t, err)
	assert.Equal(t, "tagger", ev.RepositoryID)
	assert.Equal(t, "eu-west-1", ev.Region)
	assert.Equal(t, []string{"refs/heads/main", "refs/tags/v1"}, ev.References)
	require.NotNil(t, ev.Credentials)
	assert.Equal(t, "AKID", ev.Credentials.AccessKeyID)

	out := ev.Augment("OK")
	assert.Equal(t, "OK", out["Status"])
	assert.Contains(t, out, "Records")
	assert.NotContains(t, ev.Raw, "Status")
}

func TestParseEvent_NoCredentials(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"Records":[{"eventSourceARN":"arn:aws:codecommit:us-east-1:123:myrepo"}]}`))
	require.NoError(t, err)
	assert.Nil(t, ev.Credentials)
	assert.Empty(t, ev.References)
}

func TestParseEvent_Errors(t *testing.T) {
	_, err := ParseEvent([]byte(`{"Records":[]}`))
	assert.ErrorIs(t, err, ErrNoRecords)

	_, err = ParseEvent([]byte(`{"Records":[{"eventSourceARN":"bogus"}]}`))
	assert.ErrorIs(t, err, ErrInvalidARN)

	_, err = ParseEvent([]byte(`not json`))
	assert.Error(t, err)
}
