package auth

import (
	"testing"
	"time"

	"github.com/dkeye/consult/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sid = "6f1c2b8e-3d4a-4e5f-9a6b-7c8d9e0f1a2b"

func expert() domain.Participant {
	return domain.Participant{SessionID: sid, ID: "expert-1", Role: domain.RoleExpert, DisplayName: "Ana"}
}

func TestMintVerify(t *testing.T) {
	tk := NewTickets("0123456789abcdef", "consult", time.Hour)
	raw, err := tk.Mint(expert())
	require.NoError(t, err)

	p, err := tk.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, expert(), *p)
}

func TestVerifyRejects(t *testing.T) {
	tk := NewTickets("0123456789abcdef", "consult", time.Hour)
	good, err := tk.Mint(expert())
	require.NoError(t, err)

	other := NewTickets("another-secret-0000", "consult", time.Hour)
	foreign, err := other.Mint(expert())
	require.NoError(t, err)

	wrongIssuer := NewTickets("0123456789abcdef", "someone-else", time.Hour)
	misissued, err := wrongIssuer.Mint(expert())
	require.NoError(t, err)

	expired := NewTickets("0123456789abcdef", "consult", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, err := expired.Mint(expert())
	require.NoError(t, err)

	bad := expert()
	bad.Role = "admin"
	badRole, err := tk.Mint(bad)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{SessionID: sid, Role: "user"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"garbage":      "not-a-jwt",
		"tampered":     good + "x",
		"foreign key":  foreign,
		"wrong issuer": misissued,
		"expired":      stale,
		"bad role":     badRole,
		"alg none":     none,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tk.Verify(raw)
			require.ErrorIs(t, err, ErrInvalidTicket)
		})
	}
}
