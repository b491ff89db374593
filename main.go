package main

import (
	"fmt"

	"github.com/osrs-friend-monitor/friend-monitor-server/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
