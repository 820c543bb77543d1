package docker

import "github.com/docker/docker/api/types/filters"

func filtersArgs() filters.Args {
	return filters.NewArgs(filters.Arg("label", labelManagedKey+"="+labelManagedVal))
}
