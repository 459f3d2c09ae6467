// Package autoload registers every channel factory.
package autoload

import (
	_ "finsight/pkg/channels/telegram"
	_ "finsight/pkg/channels/web"
)
