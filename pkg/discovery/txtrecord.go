package discovery

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/duosync/duosync-go/pkg/version"
	"github.com/duosync/duosync-go/pkg/zone"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeTXT creates the TXT record for info.
func EncodeTXT(info *Info) TXTRecordMap {
	v := info.Version
	if v == (version.ProtocolVersion{}) {
		v = version.MustParse(version.Current)
	}

	txt := TXTRecordMap{
		TXTKeyDeviceID:    info.DeviceID,
		TXTKeyProtocol:    version.ProtocolID(v.Major),
		TXTKeyVersion:     v.String(),
		TXTKeyPowerBudget: strconv.FormatUint(uint64(info.PowerBudget), 10),
		TXTKeyZoneMode:    info.ZoneMode.String(),
	}
	if info.PairID != "" {
		txt[TXTKeyPair] = info.PairID
	}
	if info.Name != "" {
		txt[TXTKeyName] = info.Name
	}
	return txt
}

// DecodeTXT parses a TXT record. Port is not part of the record and is
// left zero.
func DecodeTXT(txt TXTRecordMap) (*Info, error) {
	info := &Info{}

	var ok bool
	if info.DeviceID, ok = txt[TXTKeyDeviceID]; !ok || info.DeviceID == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyDeviceID)
	}

	proto, ok := txt[TXTKeyProtocol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyProtocol)
	}
	major, err := version.MajorFromProtocolID(proto)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTXTRecord, err)
	}

	if s, ok := txt[TXTKeyVersion]; ok {
		v, err := version.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTXTRecord, err)
		}
		if v.Major != major {
			return nil, fmt.Errorf("%w: version %s does not match %s", ErrInvalidTXTRecord, s, proto)
		}
		info.Version = v
	} else {
		info.Version = version.ProtocolVersion{Major: major}
	}

	if s, ok := txt[TXTKeyPowerBudget]; ok {
		n, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: power budget %q", ErrInvalidTXTRecord, s)
		}
		info.PowerBudget = uint16(n)
	}

	if s, ok := txt[TXTKeyZoneMode]; ok {
		m, err := zone.ParseMode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTXTRecord, err)
		}
		info.ZoneMode = m
	}

	info.PairID = txt[TXTKeyPair]
	info.Name = txt[TXTKeyName]
	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if k == "" {
			continue
		}
		if !found {
			v = ""
		}
		txt[k] = v
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
