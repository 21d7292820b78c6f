// Package utid issues unique, time-ordered, role-tagged transaction
// identifiers. A UTID is allocated only after every precondition of a
// mutation has passed, immediately before the first persisted side effect,
// so no UTID ever exists for a failed operation.
package utid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/agrilink/agrilink-backend/pkg/enums"
)

const randomSuffixBytes = 3

var roleTags = map[enums.Role]string{
	enums.RoleFarmer: "FRM",
	enums.RoleTrader: "TRD",
	enums.RoleBuyer:  "BYR",
	enums.RoleAdmin:  "ADM",
}

// SystemTag marks UTIDs issued by background processes rather than a user.
const SystemTag = "SYS"

// Generate returns a UTID for the acting role: role tag, a zero-padded
// nanosecond timestamp (lexically sortable), and a random hex suffix.
func Generate(role enums.Role) string {
	tag, ok := roleTags[role]
	if !ok {
		tag = SystemTag
	}
	return build(tag, time.Now())
}

// GenerateSystem returns a UTID tagged as system-issued.
func GenerateSystem() string {
	return build(SystemTag, time.Now())
}

func build(tag string, now time.Time) string {
	buf := make([]byte, randomSuffixBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to the
		// clock so issuance cannot block a committing transaction.
		return fmt.Sprintf("%s-%020d-%06x", tag, now.UnixNano(), now.Nanosecond()%0xFFFFFF)
	}
	return fmt.Sprintf("%s-%020d-%s", tag, now.UnixNano(), hex.EncodeToString(buf))
}

// RoleTag returns the tag prefix used for a role, for display and reporting.
func RoleTag(role enums.Role) string {
	if tag, ok := roleTags[role]; ok {
		return tag
	}
	return SystemTag
}
