package types

import "github.com/Layr-Labs/raffle-sidecar/pkg/storage"

// CollectionArtwork is the display subset of a collection joined onto pools.
type CollectionArtwork struct {
	Address    string  `json:"address"`
	Name       string  `json:"name"`
	Symbol     string  `json:"symbol"`
	Standard   string  `json:"standard"`
	IsRevealed bool    `json:"isRevealed"`
	ArtworkUri string  `json:"artworkUri"`
	TokenId    *string `json:"tokenId,omitempty"`
}

func NewCollectionArtwork(c *storage.Collection, tokenId *string) *CollectionArtwork {
	if c == nil {
		return nil
	}
	return &CollectionArtwork{
		Address:    c.Address,
		Name:       c.Name,
		Symbol:     c.Symbol,
		Standard:   c.Standard,
		IsRevealed: c.IsRevealed,
		ArtworkUri: c.ArtworkUri(tokenId),
		TokenId:    tokenId,
	}
}
