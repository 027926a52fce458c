// Пакет catalog содержит сидирование демо-каталога для локальной разработки.
package catalog

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Словари для генерации названий демо-товаров.
var (
	adjectives = []string{"fast", "silent", "red", "bold", "green", "rapid", "wild", "blue", "lunar", "dusty"}
	nouns      = []string{"falcon", "mountain", "river", "sky", "tiger", "forest", "ocean", "engine", "shadow", "planet"}
)

const (
	// Границы генерации цены в целых единицах валюты и остатка.
	minPriceUnits = 5
	maxPriceUnits = 15
	minStock      = 10
	maxStock      = 30
)

// SeedDemo наполняет каталог count случайными опубликованными товарами:
// название из словарей, цена 5–15 единиц валюты, остаток 10–30.
// Возвращает созданные варианты в порядке создания.
func SeedDemo(repo domain.CatalogRepository, count int, seed int64) ([]domain.Variant, error) {
	if count <= 0 {
		count = 3
	}

	rng := rand.New(rand.NewSource(seed))
	seen := make(map[string]bool, count)
	variants := make([]domain.Variant, 0, count)

	for len(variants) < count {
		name := demoName(rng)
		if seen[name] {
			continue
		}
		seen[name] = true

		variant := domain.Variant{
			SKU:         skuFor(name),
			Name:        name,
			Description: fmt.Sprintf("Auto-generated product: %s", name),
			Status:      domain.VariantStatusPublished,
			PriceMinor:  int64(minPriceUnits+rng.Intn(maxPriceUnits-minPriceUnits+1)) * 100,
			Stock:       int32(minStock + rng.Intn(maxStock-minStock+1)),
		}

		created, err := repo.CreateVariant(variant)
		if err != nil {
			return nil, fmt.Errorf("seed demo variant %q: %w", name, err)
		}
		variants = append(variants, created)
	}

	return variants, nil
}

func demoName(rng *rand.Rand) string {
	adjective := adjectives[rng.Intn(len(adjectives))]
	noun := nouns[rng.Intn(len(nouns))]
	return title(adjective) + " " + title(noun)
}

// skuFor строит артикул из первых шести символов md5-хэша названия.
func skuFor(name string) string {
	sum := md5.Sum([]byte(name))
	return "SKU-" + strings.ToUpper(hex.EncodeToString(sum[:])[:6])
}

func title(word string) string {
	if word == "" {
		return word
	}
	return strings.ToUpper(word[:1]) + word[1:]
}
