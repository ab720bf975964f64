package sanitizer

import (
	"os"
	"sort"
	"strings"

	"github.com/jenian/iswith/internal/config"
	"github.com/jenian/iswith/internal/model"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	"github.com/zricethezav/gitleaks/v8/report"
)

// CustomRulesPath is merged over the gitleaks defaults when present
const CustomRulesPath = ".gitleaks-custom.toml"

// Detector is an interface for secret detection
type Detector interface {
	DetectString(content string) []report.Finding
}

// redactor implements the Redactor interface using gitleaks for detection
type redactor struct {
	detector Detector
}

// NewRedactor creates a new redactor with gitleaks detector and custom rules
func NewRedactor() config.Redactor {
	return NewRedactorWithDetector(nil)
}

// NewRedactorWithDetector creates a new redactor with the provided detector.
// If detector is nil, it creates a default gitleaks detector.
func NewRedactorWithDetector(detector Detector) config.Redactor {
	if detector != nil {
		return &redactor{detector: detector}
	}

	cfg, err := loadDefaultConfig()
	if err != nil {
		return &redactor{detector: detect.NewDetector(gitleaksconfig.Config{})}
	}
	return &redactor{detector: detect.NewDetector(cfg)}
}

// loadDefaultConfig loads the default gitleaks configuration and merges custom rules
func loadDefaultConfig() (gitleaksconfig.Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(strings.NewReader(gitleaksconfig.DefaultConfig)); err != nil {
		return gitleaksconfig.Config{}, err
	}

	if _, err := os.Stat(CustomRulesPath); err == nil {
		v.SetConfigFile(CustomRulesPath)
		// a broken custom file leaves the defaults in place
		_ = v.MergeInConfig()
	}

	var vc gitleaksconfig.ViperConfig
	if err := v.Unmarshal(&vc); err != nil {
		return gitleaksconfig.Config{}, err
	}
	return vc.Translate()
}

// Redact uses gitleaks to detect secrets and redacts them from the input
func (r *redactor) Redact(input string) (string, int) {
	result, count, _ := r.RedactWithDetails(input, false)
	return result, count
}

// RedactWithDetails uses gitleaks to detect secrets and redacts them from the input.
// Returns redacted string, count, and details for verbose output.
func (r *redactor) RedactWithDetails(input string, verbose bool) (string, int, []config.FindingDetail) {
	if input == "" {
		return input, 0, nil
	}

	var details []config.FindingDetail
	placeholders := make(map[string]string) // secret -> placeholder
	var order []string

	for _, finding := range r.detector.DetectString(input) {
		secret := finding.Match
		if secret == "" {
			secret = finding.Secret
		}
		if secret == "" {
			continue
		}
		if verbose {
			details = append(details, config.FindingDetail{
				RuleID:      finding.RuleID,
				Description: finding.Description,
				StartLine:   finding.StartLine,
				StartColumn: finding.StartColumn,
				EndColumn:   finding.EndColumn,
				Entropy:     finding.Entropy,
				Tags:        finding.Tags,
				Fingerprint: finding.Fingerprint,
			})
		}
		if _, ok := placeholders[secret]; !ok {
			placeholders[secret] = placeholder(finding.RuleID, finding.Description)
			order = append(order, secret)
		}
	}

	// longest first so a secret containing another is replaced whole
	sort.SliceStable(order, func(i, j int) bool { return len(order[i]) > len(order[j]) })

	result := input
	total := 0
	for _, secret := range order {
		if n := strings.Count(result, secret); n > 0 {
			result = strings.ReplaceAll(result, secret, placeholders[secret])
			total += n
		}
	}
	return result, total, details
}

var placeholderRules = []struct {
	keywords    []string
	placeholder string
}{
	{[]string{"aws-access", "access key"}, "<REDACTED_AWS_ACCESS_KEY>"},
	{[]string{"aws-secret", "aws secret"}, "<REDACTED_AWS_SECRET_KEY>"},
	{[]string{"aws"}, "<REDACTED_AWS_CREDENTIAL>"},
	{[]string{"github"}, "<REDACTED_GITHUB_TOKEN>"},
	{[]string{"private-key", "private key"}, "<REDACTED_PRIVATE_KEY>"},
	{[]string{"api-key", "api key"}, "<REDACTED_API_KEY>"},
	{[]string{"bearer"}, "<REDACTED_BEARER_TOKEN>"},
	{[]string{"token"}, "<REDACTED_TOKEN>"},
	{[]string{"password"}, "<REDACTED_PASSWORD>"},
	{[]string{"db-connection", "database connection"}, "<REDACTED_DB_CONNECTION_STRING>"},
}

// placeholder picks a redaction marker from the rule id and description
func placeholder(ruleID, description string) string {
	haystack := strings.ToLower(ruleID + " " + description)
	for _, rule := range placeholderRules {
		for _, kw := range rule.keywords {
			if strings.Contains(haystack, kw) {
				return rule.placeholder
			}
		}
	}
	return "<REDACTED_SECRET>"
}

// WithFindingLog wraps r so every redaction is logged at debug level with
// its rule and position. The secret itself is never logged.
func WithFindingLog(r config.Redactor, log zerolog.Logger) config.Redactor {
	return &loggingRedactor{Redactor: r, log: log}
}

type loggingRedactor struct {
	config.Redactor
	log zerolog.Logger
}

func (l *loggingRedactor) Redact(input string) (string, int) {
	result, count, details := l.RedactWithDetails(input, true)
	for _, d := range details {
		l.log.Debug().
			Str("rule_id", d.RuleID).
			Str("fingerprint", d.Fingerprint).
			Int("line", d.StartLine).
			Int("column", d.StartColumn).
			Float32("entropy", d.Entropy).
			Msg("secret redacted")
	}
	return result, count
}

// RedactStatistics redacts example contexts in place and returns the number of redactions
func RedactStatistics(r config.Redactor, stats []model.InputStatistic) int {
	total := 0
	for i := range stats {
		for j, example := range stats[i].Examples {
			redacted, n := r.Redact(example)
			stats[i].Examples[j] = redacted
			total += n
		}
	}
	return total
}

// RedactInputs redacts input values in place and returns the number of redactions
func RedactInputs(r config.Redactor, inputs []model.ExtractedInput) int {
	total := 0
	for i := range inputs {
		redacted, n := r.Redact(inputs[i].Value)
		inputs[i].Value = redacted
		total += n
	}
	return total
}

// RedactDefaults redacts declared default values in place and returns the number of redactions
func RedactDefaults(r config.Redactor, inputs []model.WorkflowInput) int {
	total := 0
	for i := range inputs {
		redacted, n := r.Redact(inputs[i].Default)
		inputs[i].Default = redacted
		total += n
	}
	return total
}
