package crypto_test

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/awnumar/memguard"
	cryptopkg "github.com/pctrl/pctrl/internal/crypto"
	"github.com/pctrl/pctrl/internal/storage"
)

func BenchmarkStoreOpenCold(b *testing.B) {
	ctx := context.Background()
	storePath := filepath.Join(b.TempDir(), "pctrl.db")
	passphrase := []byte("bench-passphrase")

	store, err := storage.Open(ctx, storePath, passphrase, storage.Options{})
	if err != nil {
		b.Fatalf("create store: %v", err)
	}
	if err := store.Close(); err != nil {
		b.Fatalf("close store: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store, err := storage.Open(ctx, storePath, passphrase, storage.Options{})
		if err != nil {
			b.Fatalf("open store: %v", err)
		}
		if err := store.Close(); err != nil {
			b.Fatalf("close store: %v", err)
		}
	}
}

func BenchmarkKeyDerivation(b *testing.B) {
	params := cryptopkg.DefaultArgon2Params()
	passphrase := []byte("correct horse battery staple")
	salt := make([]byte, cryptopkg.DefaultArgon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		b.Fatalf("generate salt: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key, err := cryptopkg.DeriveKey(passphrase, salt, params)
		if err != nil {
			b.Fatalf("derive key: %v", err)
		}
		memguard.WipeBytes(key)
	}
}
