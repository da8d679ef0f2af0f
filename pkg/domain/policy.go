package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// PolicyVersion is the provider's policy language version.
const PolicyVersion = "2012-10-17"

// ReadAccessSID names the single policy statement managed by the
// orchestrator to grant cross-account read access. Upserts of this statement
// are idempotent: applying the same account set twice yields byte-identical
// policy documents.
const ReadAccessSID = "GrantReadAccess"

// Principal is a policy statement principal: either the wildcard or a list
// of account root principals.
type Principal struct {
	AWS []string
	Any bool
}

// MarshalJSON renders the wildcard as "*" and account principals as a
// sorted list, keeping repeated marshals of the same principal set
// byte-identical.
func (p Principal) MarshalJSON() ([]byte, error) {
	if p.Any {
		return json.Marshal("*")
	}
	sorted := append([]string(nil), p.AWS...)
	sort.Strings(sorted)
	return json.Marshal(map[string][]string{"AWS": sorted})
}

// UnmarshalJSON accepts the wildcard, a bare principal string, or the
// {"AWS": ...} form with a string or list value.
func (p *Principal) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "*" {
			p.Any = true
			p.AWS = nil
			return nil
		}
		p.AWS = []string{s}
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("unmarshal principal: %w", err)
	}
	raw, ok := obj["AWS"]
	if !ok {
		return fmt.Errorf("unsupported principal %s", data)
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		p.AWS = []string{one}
		return nil
	}
	return json.Unmarshal(raw, &p.AWS)
}

// StringList marshals as a JSON array even for a single element so that
// documents stay canonical across round trips.
type StringList []string

// MarshalJSON renders the list as-is; order is preserved as constructed.
func (l StringList) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(l))
}

// UnmarshalJSON accepts a bare string or a list.
func (l *StringList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = StringList{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*l = StringList(list)
	return nil
}

// PolicyStatement is one statement of a bucket policy document.
type PolicyStatement struct {
	SID       string                       `json:"Sid,omitempty"`
	Effect    string                       `json:"Effect"`
	Principal Principal                    `json:"Principal"`
	Action    StringList                   `json:"Action"`
	Resource  StringList                   `json:"Resource"`
	Condition map[string]map[string]string `json:"Condition,omitempty"`
}

// BucketPolicy is a bucket policy document. Values are treated as immutable:
// mutating helpers return a new document.
type BucketPolicy struct {
	Version   string            `json:"Version"`
	Statement []PolicyStatement `json:"Statement"`
}

// NewBucketPolicy builds a policy document from statements.
func NewBucketPolicy(statements ...PolicyStatement) *BucketPolicy {
	return &BucketPolicy{Version: PolicyVersion, Statement: statements}
}

// Clone returns a deep copy of the document.
func (p *BucketPolicy) Clone() *BucketPolicy {
	if p == nil {
		return nil
	}
	cp := &BucketPolicy{Version: p.Version, Statement: make([]PolicyStatement, len(p.Statement))}
	copy(cp.Statement, p.Statement)
	return cp
}

// WithStatement upserts a statement by SID: an existing statement keeps its
// position, a new one is appended. The receiver is not modified.
func (p *BucketPolicy) WithStatement(stmt PolicyStatement) *BucketPolicy {
	cp := p.Clone()
	if cp == nil {
		cp = NewBucketPolicy()
	}
	for i, existing := range cp.Statement {
		if existing.SID == stmt.SID && stmt.SID != "" {
			cp.Statement[i] = stmt
			return cp
		}
	}
	cp.Statement = append(cp.Statement, stmt)
	return cp
}

// WithoutStatement removes the statement with the given SID if present.
func (p *BucketPolicy) WithoutStatement(sid string) *BucketPolicy {
	cp := p.Clone()
	if cp == nil {
		return nil
	}
	for i, existing := range cp.Statement {
		if existing.SID == sid {
			cp.Statement = append(cp.Statement[:i], cp.Statement[i+1:]...)
			break
		}
	}
	return cp
}

// Encode renders the canonical JSON form of the document.
func (p *BucketPolicy) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode bucket policy: %w", err)
	}
	return string(data), nil
}

// DecodeBucketPolicy parses a policy document.
func DecodeBucketPolicy(data string) (*BucketPolicy, error) {
	var p BucketPolicy
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decode bucket policy: %w", err)
	}
	return &p, nil
}

func accountRootARN(id AccountID) string {
	return fmt.Sprintf("arn:aws:iam::%s:root", id)
}

// ReadAccessStatement grants list and get on the bucket to the given
// accounts under the managed SID.
func ReadAccessStatement(bucketARN string, accounts []AccountID) PolicyStatement {
	principals := make([]string, 0, len(accounts))
	for _, id := range accounts {
		principals = append(principals, accountRootARN(id))
	}
	return PolicyStatement{
		SID:       ReadAccessSID,
		Effect:    "Allow",
		Principal: Principal{AWS: principals},
		Action:    StringList{"s3:Get*", "s3:List*"},
		Resource:  StringList{bucketARN, bucketARN + "/*"},
	}
}

// InitialBucketPolicy is the policy installed on a freshly created bucket:
// full read/write for the owner account, deny non-encrypted transport, and
// deny any server-side encryption other than the designated key.
func InitialBucketPolicy(bucketARN string, owner AccountID, encryptionKeyARN string) *BucketPolicy {
	ownerPrincipal := Principal{AWS: []string{accountRootARN(owner)}}
	return NewBucketPolicy(
		PolicyStatement{
			SID:       "AllowWriteForOwner",
			Effect:    "Allow",
			Principal: ownerPrincipal,
			Action: StringList{
				"s3:AbortMultipartUpload",
				"s3:DeleteObject",
				"s3:DeleteObjectTagging",
				"s3:DeleteObjectVersion",
				"s3:DeleteObjectVersionTagging",
				"s3:PutObjectTagging",
				"s3:PutObjectVersionTagging",
				"s3:PutLifecycleConfiguration",
			},
			Resource: StringList{bucketARN, bucketARN + "/*"},
		},
		PolicyStatement{
			SID:       "AllowPutObjectForOwner",
			Effect:    "Allow",
			Principal: ownerPrincipal,
			Action:    StringList{"s3:PutObject"},
			Resource:  StringList{bucketARN + "/*"},
		},
		PolicyStatement{
			SID:       "AllowGetBucketForOwner",
			Effect:    "Allow",
			Principal: ownerPrincipal,
			Action:    StringList{"s3:Get*", "s3:List*"},
			Resource:  StringList{bucketARN, bucketARN + "/*"},
		},
		PolicyStatement{
			SID:       "DenyInsecureTransport",
			Effect:    "Deny",
			Principal: Principal{Any: true},
			Action:    StringList{"s3:*"},
			Resource:  StringList{bucketARN, bucketARN + "/*"},
			Condition: map[string]map[string]string{
				"Bool": {"aws:SecureTransport": "false"},
			},
		},
		PolicyStatement{
			SID:       "DenyNonKMSEncryption",
			Effect:    "Deny",
			Principal: Principal{Any: true},
			Action:    StringList{"s3:PutObject"},
			Resource:  StringList{bucketARN + "/*"},
			Condition: map[string]map[string]string{
				"Null":            {"s3:x-amz-server-side-encryption": "false"},
				"StringNotEquals": {"s3:x-amz-server-side-encryption": "aws:kms"},
			},
		},
		PolicyStatement{
			SID:       "DenyWrongEncryptionKey",
			Effect:    "Deny",
			Principal: Principal{Any: true},
			Action:    StringList{"s3:PutObject"},
			Resource:  StringList{bucketARN + "/*"},
			Condition: map[string]map[string]string{
				"StringEquals":            {"s3:x-amz-server-side-encryption": "aws:kms"},
				"StringNotEqualsIfExists": {"s3:x-amz-server-side-encryption-aws-kms-key-id": encryptionKeyARN},
			},
		},
	)
}
