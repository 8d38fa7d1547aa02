// Command mfstools streams a TiVo MFS application/media partition pair
// to a backup file and restores that stream back onto one or two
// destination drives. See cmd for the backup/restore/info subcommands.
package main

import "github.com/thessio/mfstools-go/cmd"

func main() {
	cmd.Execute()
}
