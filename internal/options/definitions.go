package options

const allScopes = FlagUser | FlagSubscriptionFolder | FlagSubscription

// Download orders accepted by SubscriptionsDownloadOrder.
const (
	DownloadOrderNewest = "newest"
	DownloadOrderOldest = "oldest"
)

var (
	// SubscriptionsAutoDownload queues new videos for download after sync.
	SubscriptionsAutoDownload = Definition[bool]{
		Key:              "subscriptions.auto_download",
		EnvironmentKey:   "TUBEVORE_AUTO_DOWNLOAD",
		ConfigurationKey: "options.subscriptions.auto_download",
		DefaultValue:     true,
		Flags:            allScopes,
	}

	// SubscriptionsAutoDeleteWatched marks a video watched once its file is gone.
	SubscriptionsAutoDeleteWatched = Definition[bool]{
		Key:              "subscriptions.auto_delete_watched",
		EnvironmentKey:   "TUBEVORE_AUTO_DELETE_WATCHED",
		ConfigurationKey: "options.subscriptions.auto_delete_watched",
		DefaultValue:     false,
		Flags:            allScopes,
	}

	// SubscriptionsMaxCount caps downloaded videos per subscription. 0 means no limit.
	SubscriptionsMaxCount = Definition[int]{
		Key:              "subscriptions.max_count",
		EnvironmentKey:   "TUBEVORE_MAX_COUNT",
		ConfigurationKey: "options.subscriptions.max_count",
		DefaultValue:     10,
		Flags:            allScopes,
	}

	SubscriptionsDownloadOrder = Definition[string]{
		Key:              "subscriptions.download_order",
		EnvironmentKey:   "TUBEVORE_DOWNLOAD_ORDER",
		ConfigurationKey: "options.subscriptions.download_order",
		DefaultValue:     DownloadOrderNewest,
		Flags:            allScopes,
	}

	// SynchronizationInterval is the number of minutes between scheduled syncs.
	SynchronizationInterval = Definition[int]{
		Key:              "sync.interval_minutes",
		EnvironmentKey:   "TUBEVORE_SYNC_INTERVAL",
		ConfigurationKey: "options.sync.interval_minutes",
		DefaultValue:     60,
		Flags:            FlagNone,
	}
)

// All returns every registered option in a stable order.
func All() []Option {
	return []Option{
		SubscriptionsAutoDownload,
		SubscriptionsAutoDeleteWatched,
		SubscriptionsMaxCount,
		SubscriptionsDownloadOrder,
		SynchronizationInterval,
	}
}

// Lookup finds a registered option by key.
func Lookup(key string) (Option, bool) {
	for _, o := range All() {
		if o.OptionKey() == key {
			return o, true
		}
	}
	return nil, false
}
