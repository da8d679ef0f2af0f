package core

import (
	"testing"

	"datahub/testutil"
)

func TestCoreStaysBehindClientInterfaces(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ProviderSDKImportForbidden,
		"orchestration reaches providers only through the domain client interfaces")
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImportForbidden,
		"backends are injected, never imported")
}
