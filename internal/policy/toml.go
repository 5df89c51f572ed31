package policy

import (
	"bytes"
	"fmt"

	"github.com/spf13/viper"
)

// PolicyFileName is the well-known path of the per-repo policy file.
const PolicyFileName = ".meritgate.toml"

// ParsePolicy decodes a .meritgate.toml document. Keys that are absent keep
// their default values; unknown keys are ignored.
func ParsePolicy(data []byte) (RepoPolicy, error) {
	v := viper.New()
	v.SetConfigType("toml")

	defaults := Default()
	v.SetDefault("starting_credit", defaults.StartingCredit)
	v.SetDefault("pr_threshold", defaults.PRThreshold)
	v.SetDefault("blacklist_threshold", defaults.BlacklistThreshold)
	setTableDefaults(v, "pr_opened", defaults.PROpened)
	setTableDefaults(v, "comment", defaults.Comment)
	setTableDefaults(v, "pr_merged", defaults.PRMerged)
	setTableDefaults(v, "review_submitted", defaults.ReviewSubmitted)

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return RepoPolicy{}, fmt.Errorf("policy: parsing %s: %w", PolicyFileName, err)
	}

	var parsed RepoPolicy
	if err := v.Unmarshal(&parsed); err != nil {
		return RepoPolicy{}, fmt.Errorf("policy: decoding %s: %w", PolicyFileName, err)
	}

	return parsed, nil
}

// EncodePolicy renders a policy as TOML, the inverse of ParsePolicy.
func EncodePolicy(p RepoPolicy) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "starting_credit = %d\n", p.StartingCredit)
	fmt.Fprintf(&buf, "pr_threshold = %d\n", p.PRThreshold)
	fmt.Fprintf(&buf, "blacklist_threshold = %d\n", p.BlacklistThreshold)
	writeTable(&buf, "pr_opened", p.PROpened)
	writeTable(&buf, "comment", p.Comment)
	writeTable(&buf, "pr_merged", p.PRMerged)
	writeTable(&buf, "review_submitted", p.ReviewSubmitted)
	return buf.Bytes()
}

func setTableDefaults(v *viper.Viper, key string, table DeltaTable) {
	v.SetDefault(key+".spam", table.Spam)
	v.SetDefault(key+".low", table.Low)
	v.SetDefault(key+".acceptable", table.Acceptable)
	v.SetDefault(key+".high", table.High)
}

func writeTable(buf *bytes.Buffer, name string, table DeltaTable) {
	fmt.Fprintf(buf, "\n[%s]\n", name)
	fmt.Fprintf(buf, "spam = %d\n", table.Spam)
	fmt.Fprintf(buf, "low = %d\n", table.Low)
	fmt.Fprintf(buf, "acceptable = %d\n", table.Acceptable)
	fmt.Fprintf(buf, "high = %d\n", table.High)
}
