// SPDX-License-Identifier: MPL-2.0

package serverbase

// Option configures a Base instance.
type Option func(*Base)

// WithName names the service in lifecycle errors. Default is "service".
func WithName(name string) Option {
	return func(b *Base) {
		if name != "" {
			b.name = name
		}
	}
}
