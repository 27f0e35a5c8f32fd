package validation

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/optiscan/internal/common"
	"github.com/ternarybob/optiscan/internal/models"
)

// Service validates scan submissions and guards every outbound connection
// against private and reserved address targets. DNS is resolved fresh at
// connect time so a record changed after admission cannot redirect the
// crawler into internal networks.
type Service struct {
	config   *common.Config
	logger   arbor.ILogger
	validate *validator.Validate
	resolver *net.Resolver
}

// NewService creates a validation service
func NewService(config *common.Config, logger arbor.ILogger) *Service {
	return &Service{
		config:   config,
		logger:   logger,
		validate: validator.New(),
		resolver: net.DefaultResolver,
	}
}

// ValidateSubmission checks a scan request at admission time. The target
// hostname is resolved once here for fast rejection; the crawler re-resolves
// before every navigation.
func (s *Service) ValidateSubmission(ctx context.Context, rawURL, email string) (*url.URL, error) {
	if err := s.ValidateEmail(email); err != nil {
		return nil, err
	}
	return s.ValidateTargetURL(ctx, rawURL)
}

// ValidateTargetURL parses and vets a target URL
func (s *Service) ValidateTargetURL(ctx context.Context, rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, models.NewValidationError(models.ErrCodeURLSyntax, "url is required")
	}
	if len(rawURL) > s.config.Scanner.MaxURLLength {
		return nil, models.NewValidationError(models.ErrCodeURLSyntax,
			fmt.Sprintf("url exceeds maximum length of %d", s.config.Scanner.MaxURLLength))
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, models.NewValidationError(models.ErrCodeURLSyntax, "url is not parseable")
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if s.config.Scanner.EnforceHTTPS {
			return nil, models.NewValidationError(models.ErrCodeURLScheme, "only https urls are accepted")
		}
	default:
		return nil, models.NewValidationError(models.ErrCodeURLScheme,
			fmt.Sprintf("unsupported scheme %q", parsed.Scheme))
	}

	host := parsed.Hostname()
	if host == "" {
		return nil, models.NewValidationError(models.ErrCodeURLSyntax, "url has no host")
	}

	if err := s.checkHostname(host); err != nil {
		return nil, err
	}

	// Literal IP targets are checked without DNS
	if ip := net.ParseIP(host); ip != nil {
		if s.isBlockedIP(ip) {
			return nil, models.NewValidationError(models.ErrCodeURLBlockedHost,
				"target address is private or reserved")
		}
		return parsed, nil
	}

	if err := s.ValidateHostForConnect(ctx, host); err != nil {
		return nil, err
	}

	return parsed, nil
}

// ValidateHostForConnect resolves a hostname and rejects it if any resolved
// address is private or reserved. Called immediately before every page
// navigation, never from cache, as the rebinding defense.
func (s *Service) ValidateHostForConnect(ctx context.Context, host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if s.isBlockedIP(ip) {
			return models.NewValidationError(models.ErrCodeURLBlockedHost,
				"target address is private or reserved")
		}
		return nil
	}

	addrs, err := s.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return models.NewValidationError(models.ErrCodeURLBlockedHost,
			fmt.Sprintf("hostname %q does not resolve", host))
	}
	if len(addrs) == 0 {
		return models.NewValidationError(models.ErrCodeURLBlockedHost,
			fmt.Sprintf("hostname %q has no addresses", host))
	}

	for _, addr := range addrs {
		if s.isBlockedIP(addr.IP) {
			s.logger.Warn().
				Str("host", host).
				Str("ip", addr.IP.String()).
				Msg("Host resolved to blocked address")
			return models.NewValidationError(models.ErrCodeURLBlockedHost,
				"target resolves to a private or reserved address")
		}
	}

	return nil
}

// ValidateEmail checks the optional notification email
func (s *Service) ValidateEmail(email string) error {
	if email == "" {
		return nil
	}
	if len(email) > s.config.Scanner.MaxEmailLength {
		return models.NewValidationError(models.ErrCodeEmailTooLong,
			fmt.Sprintf("email exceeds maximum length of %d", s.config.Scanner.MaxEmailLength))
	}
	if err := s.validate.Var(email, "email"); err != nil {
		return models.NewValidationError(models.ErrCodeEmailSyntax, "email is not valid")
	}
	return nil
}

// checkHostname rejects names that always denote internal targets
func (s *Service) checkHostname(host string) error {
	lower := strings.ToLower(strings.TrimSuffix(host, "."))

	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		if s.config.AllowTestURLs() {
			return nil
		}
		return models.NewValidationError(models.ErrCodeURLBlockedHost, "localhost targets are not allowed")
	}
	if strings.HasSuffix(lower, ".local") || strings.HasSuffix(lower, ".internal") {
		return models.NewValidationError(models.ErrCodeURLBlockedHost, "internal hostnames are not allowed")
	}
	return nil
}

// IsPrivateOrReserved reports whether an address must never be connected to.
// IPv4-mapped IPv6 addresses are unwrapped before the checks so
// ::ffff:192.168.0.1 is treated as 192.168.0.1.
func IsPrivateOrReserved(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}

	switch {
	case ip.IsLoopback(),
		ip.IsUnspecified(),
		ip.IsPrivate(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsMulticast():
		return true
	}

	if ip4 := ip.To4(); ip4 != nil {
		// Carrier-grade NAT 100.64.0.0/10
		if ip4[0] == 100 && ip4[1] >= 64 && ip4[1] <= 127 {
			return true
		}
		// 0.0.0.0/8
		if ip4[0] == 0 {
			return true
		}
		// Broadcast
		if ip4.Equal(net.IPv4bcast) {
			return true
		}
		// Documentation ranges 192.0.2.0/24, 198.51.100.0/24, 203.0.113.0/24
		if (ip4[0] == 192 && ip4[1] == 0 && ip4[2] == 2) ||
			(ip4[0] == 198 && ip4[1] == 51 && ip4[2] == 100) ||
			(ip4[0] == 203 && ip4[1] == 0 && ip4[2] == 113) {
			return true
		}
		// Benchmark range 198.18.0.0/15
		if ip4[0] == 198 && (ip4[1] == 18 || ip4[1] == 19) {
			return true
		}
		return false
	}

	// Unique-local fc00::/7
	if len(ip) == net.IPv6len && (ip[0]&0xfe) == 0xfc {
		return true
	}

	return false
}

// isBlockedIP applies the reserved-range policy with the development-mode
// loopback exception
func (s *Service) isBlockedIP(ip net.IP) bool {
	if s.config.AllowTestURLs() && ip.IsLoopback() {
		return false
	}
	return IsPrivateOrReserved(ip)
}
