package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseImage(t *testing.T) {
	cases := []struct {
		image   string
		dir     string
		tag     string
		wantErr bool
	}{
		{image: "/var/lib/images/foo", dir: "/var/lib/images/foo", tag: "latest"},
		{image: "/var/lib/images/foo:v2", dir: "/var/lib/images/foo", tag: "v2"},
		{image: ":v2", wantErr: true},
		{image: "/var/lib/images/foo:", wantErr: true},
	}
	for _, tc := range cases {
		dir, tag, err := parseImage(tc.image)
		if tc.wantErr {
			require.Error(t, err)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tc.dir, dir)
		require.Equal(t, tc.tag, tag)
	}
}
