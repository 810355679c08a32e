package address

import (
	"errors"
	"fmt"
	"testing"

	"github.com/harun/toolns/pkg/toolerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		addr Address
		want string
	}{
		{"bin", Bin("script_execute"), "bin___script_execute"},
		{"sbin", Sbin("tool_add"), "sbin___tool_add"},
		{"docs", Docs("runtime_guide"), "docs___runtime_guide"},
		{"user latest", User("bob", "math", "calculate", Latest()), "user_bob__math___calculate"},
		{"user exact", User("alice", "utils", "reverse_string", Exact("1.0")), "user_alice__utils___reverse_string__v1_0"},
		{"three components", User("alice", "utils", "reverse", Exact("2.10.3")), "user_alice__utils___reverse__v2_10_3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.addr.Validate())
			assert.Equal(t, tt.want, Encode(tt.addr))

			decoded, err := Decode(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.addr, decoded)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	segments := []string{"a", "alice", "A1", "reverse_string", "x_y_z", "tool2"}
	versions := []VersionSpec{Latest(), Exact("1"), Exact("1.0"), Exact("0.1.2"), Exact("10.20.30")}

	for _, ns := range []Namespace{NamespaceBin, NamespaceSbin, NamespaceDocs} {
		for _, name := range segments {
			a := SystemTool(ns, name)
			got, err := Decode(Encode(a))
			require.NoError(t, err)
			assert.Equal(t, a, got)
		}
	}

	for _, user := range segments {
		for _, pkg := range segments {
			for _, name := range segments {
				for _, v := range versions {
					a := User(user, pkg, name, v)
					id := Encode(a)
					got, err := Decode(id)
					require.NoError(t, err, id)
					assert.Equal(t, a, got, id)
				}
			}
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		id   string
		kind toolerr.Kind
	}{
		{"", toolerr.KindMalformedIdentifier},
		{"bin_script_execute", toolerr.KindMalformedIdentifier},
		{"bin___", toolerr.KindMalformedIdentifier},
		{"bin___script-execute", toolerr.KindMalformedIdentifier},
		{"bin___a___b", toolerr.KindMalformedIdentifier},
		{"bin___tool__v1_0", toolerr.KindMalformedIdentifier},
		{"___tool", toolerr.KindMalformedIdentifier},
		{"user_alice___reverse", toolerr.KindMalformedIdentifier},
		{"user_alice__utils___reverse__vlatest", toolerr.KindMalformedIdentifier},
		{"user_alice__utils___reverse__1_0", toolerr.KindMalformedIdentifier},
		{"user_alice__utils___reverse__v1__0", toolerr.KindMalformedIdentifier},
		{"user_alice__utils___reverse__v01", toolerr.KindMalformedIdentifier},
		{"user_alice__utils___reverse__v1_2_3_4", toolerr.KindMalformedIdentifier},
		{"user__utils___reverse", toolerr.KindMalformedIdentifier},
		{"user_alice____reverse", toolerr.KindMalformedIdentifier},
		{"user_bin__utils___reverse", toolerr.KindMalformedIdentifier},
		{"usr___reverse", toolerr.KindUnknownNamespace},
		{"opt___tool", toolerr.KindUnknownNamespace},
		{"user___tool", toolerr.KindUnknownNamespace},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.id), func(t *testing.T) {
			_, err := Decode(tt.id)
			require.Error(t, err)
			assert.Equal(t, tt.kind, toolerr.KindOf(err))
		})
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		path string
		want Address
	}{
		{"/bin/script_execute", Bin("script_execute")},
		{"/sbin/tool_remove", Sbin("tool_remove")},
		{"/docs/runtime_guide", Docs("runtime_guide")},
		{"/alice/utils/reverse", User("alice", "utils", "reverse", Latest())},
		{"/alice/utils/reverse:latest", User("alice", "utils", "reverse", Latest())},
		{"/alice/utils/reverse:1.0", User("alice", "utils", "reverse", Exact("1.0"))},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := ParseAddress(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAddress_Errors(t *testing.T) {
	tests := []struct {
		path string
		kind toolerr.Kind
	}{
		{"bin/script_execute", toolerr.KindMalformedIdentifier},
		{"/bin", toolerr.KindMalformedIdentifier},
		{"/a/b/c/d", toolerr.KindMalformedIdentifier},
		{"/bin/script_execute:1.0", toolerr.KindMalformedIdentifier},
		{"/alice/utils/reverse:1.00", toolerr.KindMalformedIdentifier},
		{"/alice/utils/reverse:", toolerr.KindMalformedIdentifier},
		{"/alice/utils/re-verse", toolerr.KindMalformedIdentifier},
		{"/alice/reverse", toolerr.KindUnknownNamespace},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := ParseAddress(tt.path)
			require.Error(t, err)
			assert.Equal(t, tt.kind, toolerr.KindOf(err))
		})
	}
}

func TestAddress_String(t *testing.T) {
	assert.Equal(t, "/bin/tool_list", Bin("tool_list").String())
	assert.Equal(t, "/alice/utils/reverse", User("alice", "utils", "reverse", Latest()).String())
	assert.Equal(t, "/alice/utils/reverse:1.0", User("alice", "utils", "reverse", Exact("1.0")).String())
}

func TestAddress_Validate(t *testing.T) {
	err := Address{Namespace: "opt", Name: "x"}.Validate()
	assert.True(t, errors.Is(err, toolerr.ErrUnknownNamespace))

	err = Address{Namespace: NamespaceBin, Name: "x", Version: Exact("1.0")}.Validate()
	assert.True(t, errors.Is(err, toolerr.ErrMalformedIdentifier))

	err = User("alice", "utils", "reverse", Exact("latest")).Validate()
	assert.True(t, errors.Is(err, toolerr.ErrMalformedIdentifier))
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, 1, CompareVersions("2.0", "1.10"))
	assert.Equal(t, 1, CompareVersions("1.10", "1.9"))
	assert.Equal(t, -1, CompareVersions("1.9", "2.0"))
	assert.Equal(t, 0, CompareVersions("1", "1.0"))
	assert.Equal(t, 0, CompareVersions("1.0", "1.0.0"))
	assert.True(t, SameVersion("2", "2.0.0"))
}

func TestValidVersion(t *testing.T) {
	for _, v := range []string{"0", "1", "1.0", "2.10.3", "0.0.1"} {
		assert.True(t, ValidVersion(v), v)
	}
	for _, v := range []string{"", "latest", "1.00", "01", "1.2.3.4", "1.", "v1", "1.0-beta", "1_0"} {
		assert.False(t, ValidVersion(v), v)
	}
}
