package wire

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeReg(t *testing.T) {
	m, err := Decode([]byte("REG alice.stark;10.0.0.1;30000;30001"))
	require.NoError(t, err)
	reg, ok := m.(Reg)
	require.True(t, ok)
	assert.Equal(t, "alice.stark", reg.Name)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), reg.IP)
	assert.EqualValues(t, 30000, reg.TalkPort)
	assert.EqualValues(t, 30001, reg.DNSPort)
}

func TestDecodeRegMalformed(t *testing.T) {
	_, err := Decode([]byte("REG alice.stark;10.0.0.1;30000"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeUnr(t *testing.T) {
	m, err := Decode([]byte("UNR alice.stark"))
	require.NoError(t, err)
	assert.Equal(t, Unr{Name: "alice.stark"}, m)
}

func TestDecodeQry(t *testing.T) {
	m, err := Decode([]byte("QRY dave.lannister"))
	require.NoError(t, err)
	assert.Equal(t, Qry{Name: "dave.lannister"}, m)
}

func TestDecodeDns(t *testing.T) {
	m, err := Decode([]byte("DNS alice.stark;10.0.0.1;30000"))
	require.NoError(t, err)
	assert.Equal(t, Dns{Name: "alice.stark", IP: netip.MustParseAddr("10.0.0.1"), DNSPort: 30000}, m)
}

func TestDecodeLstWithContacts(t *testing.T) {
	raw := "LST\nalice.stark;10.0.0.1;30000;30000\nbob.stark;10.0.0.2;30000;30000\n\n"
	m, err := Decode([]byte(raw))
	require.NoError(t, err)
	lst, ok := m.(Lst)
	require.True(t, ok)
	require.Len(t, lst.Contacts, 2)
	assert.Equal(t, "alice.stark", lst.Contacts[0].Name)
	assert.Equal(t, "bob.stark", lst.Contacts[1].Name)
}

func TestDecodeLstRefusalIsEmpty(t *testing.T) {
	m, err := Decode([]byte("LST\n\n"))
	require.NoError(t, err)
	lst, ok := m.(Lst)
	require.True(t, ok)
	assert.Empty(t, lst.Contacts)
}

func TestDecodeFwEmpty(t *testing.T) {
	m, err := Decode([]byte("FW"))
	require.NoError(t, err)
	assert.Equal(t, Fw{Empty: true}, m)
}

func TestDecodeFwPopulated(t *testing.T) {
	m, err := Decode([]byte("FW dave.lannister;10.1.0.1;30000"))
	require.NoError(t, err)
	assert.Equal(t, Fw{Name: "dave.lannister", IP: netip.MustParseAddr("10.1.0.1"), DNSPort: 30000}, m)
}

func TestDecodeRplEmpty(t *testing.T) {
	m, err := Decode([]byte("RPL"))
	require.NoError(t, err)
	assert.Equal(t, Rpl{Empty: true}, m)
}

func TestDecodeOkNok(t *testing.T) {
	m, err := Decode([]byte("OK"))
	require.NoError(t, err)
	assert.Equal(t, Ok{}, m)

	m, err = Decode([]byte("NOK - You do not have my surname"))
	require.NoError(t, err)
	assert.Equal(t, Nok{Reason: "You do not have my surname"}, m)

	m, err = Decode([]byte("NOK"))
	require.NoError(t, err)
	assert.Equal(t, Nok{}, m)
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode([]byte("BOGUS foo"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeEmptyDatagram(t *testing.T) {
	_, err := Decode([]byte(""))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEncodeRegRoundTrips(t *testing.T) {
	reg := Reg{Name: "alice.stark", IP: netip.MustParseAddr("10.0.0.1"), TalkPort: 30000, DNSPort: 30000}
	raw := Encode(reg)
	m, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, reg, m)
}

func TestEncodeLstRoundTrips(t *testing.T) {
	lst := Lst{Contacts: []ListContact{
		{Name: "alice.stark", IP: netip.MustParseAddr("10.0.0.1"), TalkPort: 30000, DNSPort: 30000},
	}}
	raw := Encode(lst)
	m, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, lst, m)
}

func TestEncodeNokWithoutReason(t *testing.T) {
	assert.Equal(t, []byte("NOK"), Encode(Nok{}))
}

func TestEncodeNokWithReason(t *testing.T) {
	assert.Equal(t, []byte("NOK - bad stuff"), Encode(Nok{Reason: "bad stuff"}))
}
