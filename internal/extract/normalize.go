package extract

import (
	"net/url"
	"path"
	"strings"

	"github.com/RecSpeed/firmwareextrs/internal/extract/domain"
)

const zipSuffix = ".zip"

// DefaultCanonicalMirror is the host every known mirror is rewritten to
const DefaultCanonicalMirror = "bkt-sgp-miui-ota-update-alisgp.oss-ap-southeast-1.aliyuncs.com"

// DefaultMirrorHosts are the CDN hosts rewritten to the canonical mirror
var DefaultMirrorHosts = []string{
	"bigota.d.miui.com",
	"hugeota.d.miui.com",
	"cdnorg.d.miui.com",
	"bn.d.miui.com",
	"superota.d.miui.com",
	"airtel.bigota.d.miui.com",
	"cdn-ota.azureedge.net",
}

// Firmware is a normalized archive reference
type Firmware struct {
	URL  string
	Name string
}

// Normalizer turns an archive URL into a canonical URL and identifier
type Normalizer struct {
	mirrors   map[string]struct{}
	canonical string
}

// NewNormalizer creates a Normalizer. Empty arguments select the defaults.
func NewNormalizer(mirrorHosts []string, canonical string) *Normalizer {
	if len(mirrorHosts) == 0 {
		mirrorHosts = DefaultMirrorHosts
	}
	if canonical == "" {
		canonical = DefaultCanonicalMirror
	}

	mirrors := make(map[string]struct{}, len(mirrorHosts))
	for _, h := range mirrorHosts {
		mirrors[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	return &Normalizer{mirrors: mirrors, canonical: strings.ToLower(canonical)}
}

// Normalize truncates raw after its first ".zip", rewrites known mirror
// hosts and derives the firmware identifier from the file name.
func (n *Normalizer) Normalize(raw string) (Firmware, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Firmware{}, domain.InvalidInput("missing url parameter")
	}

	idx := strings.Index(raw, zipSuffix)
	if idx < 0 {
		return Firmware{}, domain.InvalidInput("url must reference a .zip file")
	}

	u, err := url.Parse(raw[:idx] + zipSuffix)
	if err != nil {
		return Firmware{}, domain.InvalidInput("malformed url")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Firmware{}, domain.InvalidInput("url must be an absolute http(s) url")
	}
	// ".zip" inside the query string does not make the path an archive
	if u.RawQuery != "" || u.Fragment != "" || !strings.HasSuffix(u.Path, zipSuffix) {
		return Firmware{}, domain.InvalidInput("url must reference a .zip file")
	}

	if _, ok := n.mirrors[strings.ToLower(u.Hostname())]; ok {
		u.Host = n.canonical
	}

	name := strings.TrimSuffix(path.Base(u.Path), zipSuffix)
	if name == "" || name == "." || name == "/" {
		return Firmware{}, domain.InvalidInput("url has no firmware file name")
	}

	return Firmware{URL: u.String(), Name: name}, nil
}
