package relay

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// encodePolicy builds a CloudFront custom policy expiring at epoch, in the
// URL-safe alphabet CloudFront uses.
func encodePolicy(epoch int64) string {
	doc := fmt.Sprintf(`{"Statement":[{"Resource":"https://cdn.example/*","Condition":{"DateLessThan":{"AWS:EpochTime":%d}}}]}`, epoch)
	std := base64.StdEncoding.EncodeToString([]byte(doc))
	return strings.NewReplacer("+", "-", "=", "_", "/", "~").Replace(std)
}

func signedPost(rawURL string) map[string]any {
	return map[string]any{
		"success": true,
		"data": map[string]any{
			"post": map[string]any{
				"id":  float64(42),
				"url": rawURL,
			},
		},
	}
}

func signedURLFor(c StreamCredentials) string {
	return "https://cdn.example/hls/master.m3u8?" +
		ParamKeyPairID + "=" + c.KeyPairID + "&" +
		ParamSignature + "=" + c.Signature + "&" +
		ParamPolicy + "=" + c.Policy
}

var testCreds = StreamCredentials{
	KeyPairID: "K2JCJMDEHXQW5F",
	Signature: "Hh~abc-DEF_ghi~JKL",
	Policy:    "eyJTdGF0ZW1lbnQiOltdfQ__",
}
