package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoRecords  = errors.New("event has no records")
	ErrInvalidARN = errors.New("invalid event source ARN")
)

// ARN is a colon-delimited resource name split into its six fields.
type ARN struct {
	Partition string
	Service   string
	Region    string
	Account   string
	Resource  string
}

// ParseARN splits an eventSourceARN. It must have exactly six fields; the
// sixth one names the resource (the repository for CodeCommit triggers).
func ParseARN(s string) (ARN, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return ARN{}, fmt.Errorf("%w: %q has %d fields, want 6", ErrInvalidARN, s, len(parts))
	}
	if parts[0] != "arn" {
		return ARN{}, fmt.Errorf("%w: %q does not start with arn", ErrInvalidARN, s)
	}
	if parts[5] == "" {
		return ARN{}, fmt.Errorf("%w: %q has an empty resource", ErrInvalidARN, s)
	}
	return ARN{
		Partition: parts[1],
		Service:   parts[2],
		Region:    parts[3],
		Account:   parts[4],
		Resource:  parts[5],
	}, nil
}

func (a ARN) String() string {
	return strings.Join([]string{"arn", a.Partition, a.Service, a.Region, a.Account, a.Resource}, ":")
}

// Credentials are optional static keys passed inline with the event.
type Credentials struct {
	AccessKeyID     string `json:"aws_access_key_id"`
	SecretAccessKey string `json:"aws_secret_access_key"`
}

// DeploymentEvent identifies the change that triggered a deployment.
type DeploymentEvent struct {
	RepositoryID string
	Region       string
	SourceARN    ARN
	Credentials  *Credentials
	References   []string
	Raw          map[string]any
}

type triggerEvent struct {
	Records []struct {
		EventSourceARN string `json:"eventSourceARN"`
		CodeCommit     *struct {
			References []struct {
				Ref string `json:"ref"`
			} `json:"references"`
		} `json:"codecommit"`
	} `json:"Records"`
	Credentials *Credentials `json:"Credentials"`
}

// ParseEvent decodes a CodeCommit trigger event. Only the first record is
// used; a trigger carries one record per push.
func ParseEvent(data []byte) (*DeploymentEvent, error) {
	var ev triggerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	if len(ev.Records) == 0 {
		return nil, ErrNoRecords
	}

	record := ev.Records[0]
	arn, err := ParseARN(record.EventSourceARN)
	if err != nil {
		return nil, err
	}

	var refs []string
	if record.CodeCommit != nil {
		for _, r := range record.CodeCommit.References {
			refs = append(refs, r.Ref)
		}
	}

	creds := ev.Credentials
	if creds != nil && (creds.AccessKeyID == "" || creds.SecretAccessKey == "") {
		creds = nil
	}

	return &DeploymentEvent{
		RepositoryID: arn.Resource,
		Region:       arn.Region,
		SourceARN:    arn,
		Credentials:  creds,
		References:   refs,
		Raw:          raw,
	}, nil
}

// Augment returns a shallow copy of the raw event with the given status set.
func (e *DeploymentEvent) Augment(status string) map[string]any {
	out := make(map[string]any, len(e.Raw)+1)
	for k, v := range e.Raw {
		out[k] = v
	}
	out["Status"] = status
	return out
}
