// Package providers imports all DNS backend packages to trigger their init() registration.
package providers

import (
	_ "github.com/yuriy-kovalchuk/yk-asg-dns/internal/dns/route53"
)
