package domain

import (
	"strings"
	"testing"
)

const testBucketARN = "arn:aws:s3:::dh-hr-payroll-raw-ab12"

func TestReadAccessStatementUpsertIsIdempotent(t *testing.T) {
	base := InitialBucketPolicy(testBucketARN, "111111111111", "arn:aws:kms:eu-west-1:111111111111:key/k1")
	accounts := []AccountID{"333333333333", "222222222222"}

	once := base.WithStatement(ReadAccessStatement(testBucketARN, accounts))
	twice := once.WithStatement(ReadAccessStatement(testBucketARN, accounts))

	first, err := once.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	second, err := twice.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if first != second {
		t.Fatalf("repeated upsert is not byte-identical:\n%s\n%s", first, second)
	}
	// Principal order must not depend on input order.
	reordered := base.WithStatement(ReadAccessStatement(testBucketARN, []AccountID{"222222222222", "333333333333"}))
	third, err := reordered.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if first != third {
		t.Fatalf("principal ordering leaks input order:\n%s\n%s", first, third)
	}
}

func TestWithoutStatementRemovesReadAccess(t *testing.T) {
	base := InitialBucketPolicy(testBucketARN, "111111111111", "arn:aws:kms:eu-west-1:111111111111:key/k1")
	granted := base.WithStatement(ReadAccessStatement(testBucketARN, []AccountID{"222222222222"}))
	revoked := granted.WithoutStatement(ReadAccessSID)

	baseDoc, err := base.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	revokedDoc, err := revoked.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if baseDoc != revokedDoc {
		t.Fatalf("removing the read statement does not restore the base policy")
	}
	// Removing an absent statement is a no-op.
	if again, _ := revoked.WithoutStatement(ReadAccessSID).Encode(); again != revokedDoc {
		t.Fatalf("removing an absent statement changed the document")
	}
}

func TestInitialBucketPolicyStatements(t *testing.T) {
	p := InitialBucketPolicy(testBucketARN, "111111111111", "arn:aws:kms:eu-west-1:111111111111:key/k1")
	if p.Version != PolicyVersion {
		t.Fatalf("unexpected version %s", p.Version)
	}
	sids := make(map[string]PolicyStatement, len(p.Statement))
	for _, s := range p.Statement {
		sids[s.SID] = s
	}
	for _, want := range []string{
		"AllowWriteForOwner", "AllowPutObjectForOwner", "AllowGetBucketForOwner",
		"DenyInsecureTransport", "DenyNonKMSEncryption", "DenyWrongEncryptionKey",
	} {
		if _, ok := sids[want]; !ok {
			t.Fatalf("missing statement %s", want)
		}
	}
	deny := sids["DenyInsecureTransport"]
	if deny.Effect != "Deny" || !deny.Principal.Any {
		t.Fatalf("transport statement must deny for any principal: %+v", deny)
	}
	if deny.Condition["Bool"]["aws:SecureTransport"] != "false" {
		t.Fatalf("unexpected transport condition %v", deny.Condition)
	}
	key := sids["DenyWrongEncryptionKey"]
	if key.Condition["StringNotEqualsIfExists"]["s3:x-amz-server-side-encryption-aws-kms-key-id"] == "" {
		t.Fatalf("encryption key restriction missing")
	}
}

func TestDecodeBucketPolicyAcceptsScalarForms(t *testing.T) {
	doc := `{"Version":"2012-10-17","Statement":[{"Sid":"S","Effect":"Allow","Principal":{"AWS":"arn:aws:iam::111111111111:root"},"Action":"s3:GetObject","Resource":"arn:aws:s3:::b/*"}]}`
	p, err := DecodeBucketPolicy(doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	s := p.Statement[0]
	if len(s.Principal.AWS) != 1 || len(s.Action) != 1 || len(s.Resource) != 1 {
		t.Fatalf("scalar forms not normalized: %+v", s)
	}
	wildcard := `{"Version":"2012-10-17","Statement":[{"Effect":"Deny","Principal":"*","Action":"s3:*","Resource":"arn:aws:s3:::b"}]}`
	p, err = DecodeBucketPolicy(wildcard)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !p.Statement[0].Principal.Any {
		t.Fatalf("wildcard principal not recognized")
	}
	if _, err := DecodeBucketPolicy("{not json"); err == nil || !strings.Contains(err.Error(), "decode bucket policy") {
		t.Fatalf("expected decode error, got %v", err)
	}
}
