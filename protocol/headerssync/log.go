package headerssync

import (
	"github.com/vesperanet/vesperad/infrastructure/logger"
)

var log = logger.RegisterSubSystem("HSYN")
