// SPDX-License-Identifier: MPL-2.0

package device

import (
	"context"
	"strconv"
	"strings"
)

// Resolve implements command.Resolver for device variables:
//
//	$CH<n>          runtime value of channel n
//	$STARTVALUE<n>  persisted startup value of channel n (unset reads as 0)
//	$UPTIME         seconds since the device model was created
//	$FLAGS          device flags as a decimal number
func (d *Device) Resolve(name string) (string, bool) {
	switch name {
	case "UPTIME":
		return strconv.FormatInt(int64(d.State().Uptime.Seconds()), 10), true
	case "FLAGS":
		d.mu.Lock()
		defer d.mu.Unlock()
		return strconv.FormatUint(d.flags, 10), true
	}

	if n, ok := channelIndex(name, "STARTVALUE"); ok {
		v, _, err := d.StartValue(context.Background(), n)
		if err != nil {
			d.logger.Warn("failed to resolve start value", "ch", n, "err", err)
			return "", false
		}
		return strconv.Itoa(v), true
	}
	if n, ok := channelIndex(name, "CH"); ok {
		return strconv.Itoa(d.Channel(n)), true
	}
	return "", false
}

func channelIndex(name, prefix string) (int, bool) {
	digits, ok := strings.CutPrefix(name, prefix)
	if !ok || digits == "" {
		return 0, false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}
