package der

import (
	"bytes"
	"encoding/asn1"
	"encoding/hex"
	"math/big"
	"testing"
)

func TestEncodeValueLengthForms(t *testing.T) {
	cases := []struct {
		name    string
		size    int
		wantHdr string
	}{
		{"empty", 0, "0400"},
		{"short max", 127, "047f"},
		{"long one byte", 128, "048180"},
		{"long one byte upper", 200, "0481c8"},
		{"long two bytes", 300, "0482012c"},
		{"long three bytes", 70000, "0483011170"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			content := bytes.Repeat([]byte{0xab}, tc.size)
			got := EncodeValue(0x04, content)
			hdr := hex.EncodeToString(got[:len(got)-tc.size])
			if hdr != tc.wantHdr {
				t.Fatalf("header = %s, want %s", hdr, tc.wantHdr)
			}
			if !bytes.Equal(got[len(got)-tc.size:], content) {
				t.Fatalf("content was not copied verbatim")
			}
		})
	}
}

func TestEncodeBase128(t *testing.T) {
	cases := map[uint64]string{
		0:      "00",
		1:      "01",
		127:    "7f",
		128:    "8100",
		840:    "8648",
		10045:  "ce3d",
		113549: "86f70d",
	}
	for n, want := range cases {
		if got := hex.EncodeToString(EncodeBase128(n)); got != want {
			t.Fatalf("EncodeBase128(%d) = %s, want %s", n, got, want)
		}
	}
}

func TestEncodeOIDMatchesEncodingASN1(t *testing.T) {
	oids := []asn1.ObjectIdentifier{
		{1, 2, 840, 113549, 1, 1, 1},
		{1, 2, 840, 10045, 2, 1},
		{1, 2, 840, 10045, 3, 1, 7},
		{1, 3, 132, 0, 34},
		{1, 3, 132, 0, 35},
		{1, 3, 132, 0, 10},
		{1, 3, 101, 110},
		{1, 3, 101, 111},
		{1, 3, 101, 112},
		{1, 3, 101, 113},
	}
	for _, oid := range oids {
		want, err := asn1.Marshal(oid)
		if err != nil {
			t.Fatalf("marshal %v: %v", oid, err)
		}
		arcs := make([]uint64, len(oid))
		for i, a := range oid {
			arcs[i] = uint64(a)
		}
		if got := EncodeOID(arcs...); !bytes.Equal(got, want) {
			t.Fatalf("EncodeOID(%v) = %x, want %x", oid, got, want)
		}
	}
}

func TestEncodeSequence(t *testing.T) {
	got := EncodeSequence(EncodeOID(1, 2, 840, 113549, 1, 1, 1), Null)
	want := "300d06092a864886f70d0101010500"
	if hex.EncodeToString(got) != want {
		t.Fatalf("got %x, want %s", got, want)
	}
	if got := EncodeSequence(); hex.EncodeToString(got) != "3000" {
		t.Fatalf("empty sequence = %x", got)
	}
}

func TestEncodeBitString(t *testing.T) {
	data := []byte{0x01, 0x02, 0xff}
	want, err := asn1.Marshal(asn1.BitString{Bytes: data, BitLength: len(data) * 8})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got := EncodeBitString(data); !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

func TestEncodeUnsignedInteger(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"010001", "0203010001"},
		{"80", "02020080"},
		{"0080", "02020080"},
		{"000001", "020101"},
		{"00", "020100"},
		{"", "020100"},
		{"ff00", "020300ff00"},
	}
	for _, tc := range cases {
		in, _ := hex.DecodeString(tc.in)
		if got := hex.EncodeToString(EncodeUnsignedInteger(in)); got != tc.want {
			t.Fatalf("EncodeUnsignedInteger(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestEncodeUnsignedIntegerMatchesBigInt(t *testing.T) {
	mag := bytes.Repeat([]byte{0xc3}, 256)
	want, err := asn1.Marshal(new(big.Int).SetBytes(mag))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got := EncodeUnsignedInteger(mag); !bytes.Equal(got, want) {
		t.Fatalf("large integer encoding mismatch")
	}
}
