package skinport

import (
	"fmt"
	"reflect"
	"time"

	"github.com/alejoacosta74/skinport-go/pkg/packet"
	"github.com/mitchellh/mapstructure"
)

const feedTimeLayout = "2006-01-02T15:04:05.000Z"

var (
	timeType  = reflect.TypeOf(time.Time{})
	colorType = reflect.TypeOf(Color(0))
)

// feedHook converts codec timestamps and date strings to time.Time and hex
// strings to Color.
func feedHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	switch to {
	case timeType:
		switch v := data.(type) {
		case packet.Timestamp:
			return v.Time(), nil
		case time.Time:
			return v, nil
		case string:
			if t, err := time.Parse(feedTimeLayout, v); err == nil {
				return t, nil
			}
			return time.Parse(time.RFC3339Nano, v)
		case int64:
			return time.UnixMilli(v).UTC(), nil
		}
	case colorType:
		switch v := data.(type) {
		case string:
			return ParseColor(v)
		case int64:
			return Color(v), nil
		}
	}
	return data, nil
}

func decodeFeed(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       feedHook,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// DecodeSaleFeed converts a decoded saleFeed payload into a SaleFeed.
func DecodeSaleFeed(payload any) (SaleFeed, error) {
	var feed SaleFeed
	if _, ok := payload.(map[string]any); !ok {
		return feed, fmt.Errorf("unexpected saleFeed payload %T", payload)
	}
	if err := decodeFeed(payload, &feed); err != nil {
		return feed, fmt.Errorf("failed to decode saleFeed: %w", err)
	}
	return feed, nil
}

// DecodeSteamStatus accepts the bare status string or a map carrying it under
// "status".
func DecodeSteamStatus(payload any) (SteamStatus, error) {
	var raw string
	switch v := payload.(type) {
	case string:
		raw = v
	case map[string]any:
		s, ok := v["status"].(string)
		if !ok {
			return "", fmt.Errorf("unexpected steamStatusUpdated payload %T", payload)
		}
		raw = s
	default:
		return "", fmt.Errorf("unexpected steamStatusUpdated payload %T", payload)
	}
	status := SteamStatus(raw)
	if !status.Valid() {
		return "", fmt.Errorf("%w %q", ErrUnknownSteamStatus, raw)
	}
	return status, nil
}
