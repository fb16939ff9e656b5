package parse

import (
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClusterStatus(t *testing.T) {
	body := `
host node1 online
host node2 offline
dc node1
resource ip id=1 kind=primitive host=node1 state=running
resource web id=1 host=node1 state=running container=grp:1
resource grp id=1 kind=group
resource db id=2 kind=ms role=master host=node1 state=running
order o1 first=ip:1 then=web:1 score=INFINITY
colocation c1 rsc=web:1 with=ip:1
something we do not know about
`
	s, err := ParseClusterStatus([]byte(body))
	jtest.RequireNil(t, err)

	assert.Equal(t, map[string]HostState{"node1": HostOnline, "node2": HostOffline}, s.Hosts)
	assert.Equal(t, "node1", s.DC)
	require.Len(t, s.Resources, 4)
	assert.Equal(t, ResourceStatus{
		Key:       ServiceKey{Name: "web", ID: "1"},
		Kind:      KindPrimitive,
		Container: &ServiceKey{Name: "grp", ID: "1"},
		Host:      "node1",
		State:     StateRunning,
		Role:      RoleStarted,
	}, s.Resources[ServiceKey{Name: "web", ID: "1"}])
	assert.Equal(t, RoleMaster, s.Resources[ServiceKey{Name: "db", ID: "2"}].Role)
	assert.Equal(t, StateUnknown, s.Resources[ServiceKey{Name: "grp", ID: "1"}].State)

	assert.Equal(t, []Constraint{
		{ID: "o1", Kind: ConstraintOrder,
			From: ServiceKey{Name: "ip", ID: "1"}, To: ServiceKey{Name: "web", ID: "1"},
			Score: "INFINITY"},
		{ID: "c1", Kind: ConstraintColocation,
			From: ServiceKey{Name: "ip", ID: "1"}, To: ServiceKey{Name: "web", ID: "1"}},
	}, s.Constraints)
}

func TestParseClusterStatusErrors(t *testing.T) {
	testCases := []struct {
		name   string
		body   string
		expErr error
	}{
		{name: "error sentinel", body: "error\n\n", expErr: ErrStatusUnavailable},
		{name: "empty", body: "\n\n", expErr: ErrParse},
		{name: "bad host state", body: "host a sideways\n", expErr: ErrParse},
		{name: "resource without id", body: "resource a\n", expErr: ErrParse},
		{name: "bad kind", body: "resource a id=1 kind=blob\n", expErr: ErrParse},
		{name: "order missing then", body: "order o1 first=a:1\n", expErr: ErrParse},
		{name: "bad reference", body: "colocation c1 rsc=a with=b:1\n", expErr: ErrParse},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseClusterStatus([]byte(tc.body))
			jtest.Require(t, tc.expErr, err)
		})
	}
}

func TestErrorFrame(t *testing.T) {
	frames := SplitFrames([]byte("---start---\nerror\n\n---done---"))
	require.Len(t, frames, 1)
	_, err := ParseClusterStatus(frames[0])
	jtest.Require(t, ErrStatusUnavailable, err)
}

func TestParseClusterStatusInvalidUTF8(t *testing.T) {
	s, err := ParseClusterStatus([]byte("host node\xff1 online\n"))
	jtest.RequireNil(t, err)
	assert.Len(t, s.Hosts, 1)
}

func TestParseServiceKey(t *testing.T) {
	k, err := ParseServiceKey("ns:thing:12")
	jtest.RequireNil(t, err)
	assert.Equal(t, ServiceKey{Name: "ns:thing", ID: "12"}, k)
	assert.Equal(t, "ns:thing:12", k.String())

	for _, s := range []string{"", ":1", "a:", "noid"} {
		_, err := ParseServiceKey(s)
		jtest.Require(t, ErrParse, err)
	}
}
