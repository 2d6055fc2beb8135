package filestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		in         string
		wantBucket string
		wantKey    string
		wantOK     bool
	}{
		{"s3://exports/people.csv", "exports", "people.csv", true},
		{"s3://exports/2024/01/people.csv", "exports", "2024/01/people.csv", true},
		{"s3://exports/", "", "", false},
		{"s3://exports", "", "", false},
		{"s3:///people.csv", "", "", false},
		{"/workspace/people.csv", "", "", false},
		{"people.csv", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			bucket, key, ok := ParseURI(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantKey, key)
		})
	}
	assert.Equal(t, "s3://b/k.csv", URI("b", "k.csv"))
}

func TestConfig_Enabled(t *testing.T) {
	var nilCfg *Config
	assert.False(t, nilCfg.Enabled())
	assert.False(t, (&Config{}).Enabled())
	assert.True(t, DefaultConfig("localhost:9000", "a", "b").Enabled())
}
