package baseDataService

import (
	"strings"

	"github.com/Layr-Labs/raffle-sidecar/internal/config"
	"github.com/Layr-Labs/raffle-sidecar/pkg/service/types"
	"github.com/Layr-Labs/raffle-sidecar/pkg/utils"
	"gorm.io/gorm"
)

type BaseDataService struct {
	DB           *gorm.DB
	GlobalConfig *config.Config
}

// ResolvePagination applies the configured page size defaults and cap.
func (b *BaseDataService) ResolvePagination(p *types.Pagination) (*types.Pagination, error) {
	return p.Resolve(b.GlobalConfig.ReadApiConfig.DefaultPageSize, b.GlobalConfig.ReadApiConfig.MaxPageSize)
}

// NormalizeAddressArg lower-cases an address argument and rejects malformed input.
func NormalizeAddressArg(field string, address string) (string, error) {
	address = strings.TrimSpace(address)
	if !utils.IsValidAddress(address) {
		return "", types.NewInvalidArgumentError(field, "must be a 0x-prefixed 20 byte hex address")
	}
	return strings.ToLower(address), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern builds a case-insensitive LIKE pattern matching search as a literal substring.
// Use it with ESCAPE '\'.
func ContainsPattern(search string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(search))) + "%"
}
