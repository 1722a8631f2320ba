// Generates deterministic golden SysEx vectors for Discovery Inquiry/Reply so CI can
// diff byte-for-byte across changes to the codec package.
// Runs standalone: `go run tests/golden/gen_discovery_vectors.go`
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/midici-go/midici/internal/codec"
	"github.com/midici-go/midici/internal/wire"
)

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	outDir := filepath.Join("tests", "golden")
	must(os.MkdirAll(outDir, 0o755))

	source := wire.MUID(0x01234567)
	identity := wire.DeviceIdentity{
		ManufacturerID: [3]byte{0x00, 0x21, 0x34},
		FamilyID:       0x0100,
		ModelID:        0x0200,
		VersionID:      0x00000001,
	}
	categories := wire.CategoryPropertyExchange

	inquiry, err := codec.BuildDiscoveryInquiry(source, identity, categories, 0, 0)
	must(err)
	must(os.WriteFile(filepath.Join(outDir, "discovery_inquiry.bin"), inquiry, 0o644))

	reply, err := codec.BuildDiscoveryReply(wire.MUID(0x00000002), source, identity, categories, 0, 0, 0)
	must(err)
	must(os.WriteFile(filepath.Join(outDir, "discovery_reply.bin"), reply, 0o644))

	fmt.Println("wrote", len(inquiry), "byte discovery inquiry and", len(reply), "byte discovery reply vectors")
}
