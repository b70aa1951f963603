package discovery

import (
	"fmt"
	"strings"

	"github.com/halo-iot/halo-go/pkg/version"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeHubTXT creates TXT records for hub advertisement.
func EncodeHubTXT(info *HubInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	// Required fields
	txt[TXTKeyHubID] = info.HubID
	txt[TXTKeyAPIVersion] = info.APIVersion.String()

	// Optional fields
	if info.Tier != "" {
		txt[TXTKeyTier] = info.Tier
	}

	return txt
}

// DecodeHubTXT parses TXT records from a hub advertisement.
func DecodeHubTXT(txt TXTRecordMap) (*HubInfo, error) {
	info := &HubInfo{}

	// Parse hub ID (required)
	var ok bool
	info.HubID, ok = txt[TXTKeyHubID]
	if !ok || info.HubID == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyHubID)
	}

	// Parse API version (required)
	vStr, ok := txt[TXTKeyAPIVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyAPIVersion)
	}
	v, err := version.Parse(vStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid API version %q", ErrInvalidTXTRecord, vStr)
	}
	info.APIVersion = v

	// Optional fields
	info.Tier = txt[TXTKeyTier]

	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to a slice of "key=value" strings.
// This format is commonly used by mDNS libraries.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			// Key without value (boolean flag)
			txt[parts[0]] = ""
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
