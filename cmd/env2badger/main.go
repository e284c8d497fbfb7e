package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/betbot/spotguard/pkg/secretstore"
)

// 把 .env 中的凭证导入加密 Badger 库，之后可以删除明文 .env：
//
//	SPOTGUARD_SECRET_KEY=<64 位 hex> go run ./cmd/env2badger -in .env
func main() {
	var (
		inPath    = flag.String("in", ".env", "input .env file path")
		dbPath    = flag.String("badger", getenv("SPOTGUARD_SECRET_DB", "data/secrets.badger"), "badger secrets db path")
		secretKey = flag.String("secret-key", getenv("SPOTGUARD_SECRET_KEY", ""), "badger encryption key (32 bytes base64/hex)")
		prefix    = flag.String("prefix", "env/", "key prefix inside badger")
		only      = flag.String("only", "GATEIO_API_KEY,GATEIO_API_SECRET", "只导入这些键（逗号分隔，空表示全部）")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("secret key is required: set SPOTGUARD_SECRET_KEY or pass -secret-key"))
	}

	kv, err := godotenv.Read(*inPath)
	if err != nil {
		fatal(err)
	}
	kv = filterKeys(kv, *only)
	if len(kv) == 0 {
		fatal(fmt.Errorf("%s 中没有可导入的键", *inPath))
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{Path: *dbPath, EncryptionKey: keyBytes})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	written, err := ss.ImportAll(*prefix, kv)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "已导入 %d 项到 badger：%s（前缀 %s）\n", written, *dbPath, *prefix)
}

func filterKeys(kv map[string]string, only string) map[string]string {
	if strings.TrimSpace(only) == "" {
		return kv
	}
	out := make(map[string]string)
	for _, k := range strings.Split(only, ",") {
		k = strings.TrimSpace(k)
		if v, ok := kv[k]; ok {
			out[k] = v
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
